package reports

import (
	"spend-dashboard/internal/models"
	"spend-dashboard/internal/pipeline"
)

type StatusCount struct {
	Status models.Status `json:"status"`
	Count  int           `json:"count"`
	Share  float64       `json:"share"`
}

// RecurringUsers counts the entities of the latest week with at least
// RecurringMinTx transactions.
type RecurringUsers struct {
	Week      string  `json:"week"`
	Users     int     `json:"users"`
	Recurring int     `json:"recurring"`
	Share     float64 `json:"share"`
}

type Overview struct {
	RawRows   int    `json:"raw_rows"`
	Processed Totals `json:"processed"`
	Completed Totals `json:"completed"`
	Pending   Totals `json:"pending"`

	StatusDistribution []StatusCount  `json:"status_distribution"`
	Recurring          RecurringUsers `json:"recurring"`
	// CountryConcentration is the share of transactions, across every status,
	// made in the top ConcentrationTopN merchant countries.
	CountryConcentration float64 `json:"country_concentration"`

	WeeklyNewUsers pipeline.Table `json:"weekly_new_users"`
	WeeklySpend    pipeline.Table `json:"weekly_spend"`
}

func BuildOverview(seg pipeline.Segments, p pipeline.Params) Overview {
	return Overview{
		RawRows:              len(seg.All),
		Processed:            totals(seg.Processed, p.Entity),
		Completed:            totals(seg.Completed, p.Entity),
		Pending:              totals(seg.Pending, p.Entity),
		StatusDistribution:   statusDistribution(seg.All, p.StatusOrder),
		Recurring:            recurringUsers(seg.Processed, p),
		CountryConcentration: countryConcentration(seg.All, p.ConcentrationTopN),
		WeeklyNewUsers: pipeline.Aggregate(firstSeen(seg.Processed, p.Entity),
			[]pipeline.Dimension{pipeline.ByWeek}, pipeline.Count(measureNewUsers)).Present(),
		WeeklySpend: pipeline.Aggregate(seg.Processed,
			[]pipeline.Dimension{pipeline.ByWeek}, spendMeasures(p.Entity)...).Present(),
	}
}

// statusDistribution reports every status of the vocabulary, zero or not.
func statusDistribution(records []models.Record, order []models.Status) []StatusCount {
	t := pipeline.Aggregate(records, []pipeline.Dimension{pipeline.ByStatus}, pipeline.Count(measureTx))
	out := make([]StatusCount, 0, len(order))
	for _, s := range order {
		var n float64
		if row, ok := t.Lookup(string(s)); ok {
			n = row.Values[0]
		}
		out = append(out, StatusCount{
			Status: s,
			Count:  int(n),
			Share:  pipeline.Ratio(n, float64(len(records))),
		})
	}
	return out
}

func recurringUsers(records []models.Record, p pipeline.Params) RecurringUsers {
	t := pipeline.Aggregate(records,
		[]pipeline.Dimension{pipeline.ByWeek, pipeline.ByEntity(p.Entity)},
		pipeline.Count(measureTx),
	).Present()
	if len(t.Rows) == 0 {
		return RecurringUsers{}
	}

	// rows are sorted by week, so the latest week is last
	latest := t.Rows[len(t.Rows)-1].Keys[0].Value
	ru := RecurringUsers{Week: latest}
	for _, row := range t.Rows {
		if row.Keys[0].Value != latest {
			continue
		}
		ru.Users++
		if int(row.Values[0]) >= p.RecurringMinTx {
			ru.Recurring++
		}
	}
	ru.Share = pipeline.Ratio(float64(ru.Recurring), float64(ru.Users))
	return ru
}

// countryConcentration counts transactions per country. Counts stay
// non-negative where refunds would make a spend share exceed 1. Rows without
// a country are left out.
func countryConcentration(records []models.Record, topN int) float64 {
	t := pipeline.Aggregate(records, []pipeline.Dimension{pipeline.ByCountry},
		pipeline.Count(measureTx)).Present()
	return pipeline.TopShare(t.Column(measureTx), topN)
}
