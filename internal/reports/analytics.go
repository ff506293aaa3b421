package reports

import (
	"spend-dashboard/internal/models"
	"spend-dashboard/internal/pipeline"
)

// Transaction types that drive the points conversion rate.
const (
	TypePointsEarned   = "points_earned"
	TypePointsRedeemed = "points_redeemed"
)

type Analytics struct {
	DAU       pipeline.Table `json:"dau"`
	LatestDAU int            `json:"latest_dau"`

	AvgPerTransaction float64 `json:"avg_per_transaction"`
	AvgPerUser        float64 `json:"avg_per_user"`

	// PointsConversion is nil when nobody earned points.
	PointsConversion *float64 `json:"points_conversion"`

	CountryConcentration float64        `json:"country_concentration"`
	TopCountryCounts     pipeline.Table `json:"top_country_counts"`
}

func BuildAnalytics(seg pipeline.Segments, p pipeline.Params) Analytics {
	dau := pipeline.Aggregate(seg.Processed, []pipeline.Dimension{pipeline.ByDate},
		pipeline.DistinctCount(measureDAU, pipeline.ByEntity(p.Entity))).
		Present().
		Tail(p.DAUWindow)

	a := Analytics{
		DAU:                  dau,
		CountryConcentration: countryConcentration(seg.All, p.ConcentrationTopN),
		TopCountryCounts: byMeasure(seg.Completed, pipeline.ByCountry, measureTx, p.TopCountries,
			pipeline.Count(measureTx)),
		PointsConversion: pointsConversion(seg.All, p.Entity),
	}
	if n := len(dau.Rows); n > 0 {
		a.LatestDAU = int(dau.Rows[n-1].Values[0])
	}

	completed := totals(seg.Completed, p.Entity)
	a.AvgPerTransaction = pipeline.Ratio(completed.Volume, float64(completed.Transactions))
	a.AvgPerUser = pipeline.Ratio(completed.Volume, float64(completed.Users))
	return a
}

func pointsConversion(records []models.Record, entity pipeline.EntityField) *float64 {
	earners := make(map[string]struct{})
	redeemers := make(map[string]struct{})
	for _, r := range records {
		key := pipeline.EntityKey(r, entity)
		if key == "" {
			continue
		}
		switch r.Type {
		case TypePointsEarned:
			earners[key] = struct{}{}
		case TypePointsRedeemed:
			redeemers[key] = struct{}{}
		}
	}
	if len(earners) == 0 {
		return nil
	}
	rate := float64(len(redeemers)) / float64(len(earners))
	return &rate
}
