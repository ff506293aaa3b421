package reports

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"spend-dashboard/internal/models"
	"spend-dashboard/internal/pipeline"
)

// ErrUnknownMonth is returned for a month with no completed transactions.
var ErrUnknownMonth = errors.New("unknown month")

const monthLayout = "2006-01"

// KPI compares a monthly figure with the previous calendar month.
type KPI struct {
	Current  float64        `json:"current"`
	Previous float64        `json:"previous"`
	Delta    pipeline.Delta `json:"delta"`
}

func newKPI(current, previous float64) KPI {
	return KPI{Current: current, Previous: previous, Delta: pipeline.PeriodDelta(current, previous)}
}

// Monthly is the report for one calendar month of completed transactions.
type Monthly struct {
	Months   []string `json:"months"`
	Selected string   `json:"selected"`
	Previous string   `json:"previous"`

	Spend        KPI `json:"spend"`
	Transactions KPI `json:"transactions"`
	Users        KPI `json:"users"`

	AvgPerTransaction float64 `json:"avg_per_transaction"`
	AvgPerUser        float64 `json:"avg_per_user"`
	NewUsers          int     `json:"new_users"`

	DailyTrend    pipeline.Table `json:"daily_trend"`
	TopMerchants  pipeline.Table `json:"top_merchants"`
	TopCountries  pipeline.Table `json:"top_countries"`
	TopCategories pipeline.Table `json:"top_categories"`
}

// BuildMonthly builds the view for month ("YYYY-MM"); an empty month selects
// the latest one. With no timestamped data the result only has empty tables.
func BuildMonthly(seg pipeline.Segments, p pipeline.Params, month string) (Monthly, error) {
	m := Monthly{Months: availableMonths(seg.Completed)}
	if len(m.Months) == 0 {
		if month != "" {
			return Monthly{}, fmt.Errorf("%w: %s", ErrUnknownMonth, month)
		}
		m.Months = []string{}
		return m, nil
	}

	switch {
	case month == "":
		m.Selected = m.Months[0]
	case slices.Contains(m.Months, month):
		m.Selected = month
	default:
		return Monthly{}, fmt.Errorf("%w: %s", ErrUnknownMonth, month)
	}

	start, err := time.Parse(monthLayout, m.Selected)
	if err != nil {
		return Monthly{}, fmt.Errorf("parse month %q: %w", m.Selected, err)
	}
	m.Previous = start.AddDate(0, -1, 0).Format(monthLayout)

	inMonth := func(month string) []models.Record {
		return pipeline.FilterFunc(seg.Completed, func(r models.Record) bool { return r.HasTime && r.Month == month })
	}
	current := inMonth(m.Selected)
	cur := totals(current, p.Entity)
	prev := totals(inMonth(m.Previous), p.Entity)

	m.Spend = newKPI(cur.Volume, prev.Volume)
	m.Transactions = newKPI(float64(cur.Transactions), float64(prev.Transactions))
	m.Users = newKPI(float64(cur.Users), float64(prev.Users))
	m.AvgPerTransaction = pipeline.Ratio(cur.Volume, float64(cur.Transactions))
	m.AvgPerUser = pipeline.Ratio(cur.Volume, float64(cur.Users))

	for _, r := range firstSeen(seg.Completed, p.Entity) {
		if r.Month == m.Selected {
			m.NewUsers++
		}
	}

	measures := spendMeasures(p.Entity)
	m.DailyTrend = pipeline.Aggregate(current, []pipeline.Dimension{pipeline.ByDate}, measures...).Present()
	m.TopMerchants = byMeasure(current, pipeline.ByMerchant, measureSpend, p.TopMerchants, measures...)
	m.TopCountries = byMeasure(current, pipeline.ByCountry, measureSpend, p.TopCountries, measures...)
	m.TopCategories = byMeasure(current, pipeline.ByCategory, measureSpend, p.TopMerchants, measures...)
	return m, nil
}

// availableMonths lists months with completed transactions, latest first.
func availableMonths(records []models.Record) []string {
	t := pipeline.Aggregate(records, []pipeline.Dimension{pipeline.ByMonth}, pipeline.Count(measureTx)).Present()
	months := make([]string, 0, len(t.Rows))
	for i := len(t.Rows) - 1; i >= 0; i-- {
		months = append(months, t.Rows[i].Keys[0].Value)
	}
	return months
}
