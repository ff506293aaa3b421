package reports

import (
	"spend-dashboard/internal/models"
	"spend-dashboard/internal/pipeline"
)

var processedColumns = pipeline.StatusColumns([]models.Status{models.StatusCompleted, models.StatusPending})

type TimeAnalysis struct {
	// HourlySpend splits processed spend per UTC hour into completed and pending.
	HourlySpend    pipeline.PivotTable `json:"hourly_spend"`
	DailyCompleted pipeline.Table      `json:"daily_completed"`

	DailySpendByStatus    pipeline.PivotTable `json:"daily_spend_by_status"`
	DailyCountByStatus    pipeline.PivotTable `json:"daily_count_by_status"`
	DailyNegativeByStatus pipeline.PivotTable `json:"daily_negative_by_status"`
}

func BuildTimeAnalysis(seg pipeline.Segments, p pipeline.Params) TimeAnalysis {
	columns := pipeline.StatusColumns(p.StatusOrder)
	byDateStatus := []pipeline.Dimension{pipeline.ByDate, pipeline.ByStatus}
	spend := pipeline.Sum(measureSpend, pipeline.AmountUSD)

	daily := pipeline.Aggregate(seg.All, byDateStatus, spend, pipeline.Count(measureTx))
	negatives := pipeline.FilterFunc(seg.All, func(r models.Record) bool { return r.Amount < 0 })

	return TimeAnalysis{
		HourlySpend: pipeline.Pivot(
			pipeline.Aggregate(seg.Processed, []pipeline.Dimension{pipeline.ByHour, pipeline.ByStatus}, spend),
			measureSpend, processedColumns),
		DailyCompleted: pipeline.Aggregate(seg.Completed, []pipeline.Dimension{pipeline.ByDate},
			pipeline.Count(measureTx), spend).Present(),
		DailySpendByStatus: pipeline.Pivot(daily, measureSpend, columns),
		DailyCountByStatus: pipeline.Pivot(daily, measureTx, columns),
		DailyNegativeByStatus: pipeline.Pivot(
			pipeline.Aggregate(negatives, byDateStatus, spend), measureSpend, columns),
	}
}
