package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"spend-dashboard/internal/models"
	"spend-dashboard/internal/pipeline"
)

const maxWorkers = 4

// Measure names shared by the views.
const (
	measureTx       = "total_tx"
	measureSpend    = "total_spend"
	measureUsers    = "user_count"
	measureNewUsers = "new_users"
	measureDAU      = "dau"
)

// Report holds every dashboard view derived from one normalized snapshot.
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	RecordCount int       `json:"record_count"`

	Overview  Overview                 `json:"overview"`
	Time      TimeAnalysis             `json:"time"`
	Countries Countries                `json:"countries"`
	Retention pipeline.RetentionMatrix `json:"retention"`
	Merchants Merchants                `json:"merchants"`
	Analytics Analytics                `json:"analytics"`
	Monthly   Monthly                  `json:"monthly"`
	Risk      Risk                     `json:"risk"`
	Quality   pipeline.Quality         `json:"quality"`

	segments pipeline.Segments
	params   pipeline.Params
}

// Build derives all views. Views only read the shared segments, so they are
// computed concurrently.
func Build(ctx context.Context, records []models.Record, quality pipeline.Quality, p pipeline.Params) (*Report, error) {
	seg := pipeline.Segment(records)
	r := &Report{
		ID:          uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		RecordCount: len(records),
		Quality:     quality,
		segments:    seg,
		params:      p,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	views := []func(){
		func() { r.Overview = BuildOverview(seg, p) },
		func() { r.Time = BuildTimeAnalysis(seg, p) },
		func() { r.Countries = BuildCountries(seg, p) },
		func() { r.Retention = pipeline.Retention(seg.Completed, p.Retention()) },
		func() { r.Merchants = BuildMerchants(seg, p) },
		func() { r.Analytics = BuildAnalytics(seg, p) },
		func() { r.Risk = BuildRisk(seg, p) },
	}
	for _, view := range views {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			view()
			return nil
		})
	}
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := BuildMonthly(seg, p, "")
		if err != nil {
			return fmt.Errorf("monthly: %w", err)
		}
		r.Monthly = m
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	return r, nil
}

// MonthlyFor builds the monthly view for another month of the same snapshot.
func (r *Report) MonthlyFor(month string) (Monthly, error) {
	if month == "" || month == r.Monthly.Selected {
		return r.Monthly, nil
	}
	return BuildMonthly(r.segments, r.params, month)
}

// Totals summarizes a record set.
type Totals struct {
	Transactions int     `json:"transactions"`
	Volume       float64 `json:"volume"`
	Users        int     `json:"users"`
}

func totals(records []models.Record, entity pipeline.EntityField) Totals {
	t := pipeline.Aggregate(records, nil,
		pipeline.Count(measureTx),
		pipeline.Sum(measureSpend, pipeline.AmountUSD),
		pipeline.DistinctCount(measureUsers, pipeline.ByEntity(entity)),
	)
	return Totals{
		Transactions: int(t.Total(measureTx)),
		Volume:       t.Total(measureSpend),
		Users:        int(t.Total(measureUsers)),
	}
}

// firstSeen returns the earliest timestamped record of every entity.
func firstSeen(records []models.Record, entity pipeline.EntityField) []models.Record {
	first := make(map[string]models.Record)
	for _, r := range records {
		key := pipeline.EntityKey(r, entity)
		if key == "" || !r.HasTime {
			continue
		}
		if cur, ok := first[key]; !ok || r.AuthorizedAt.Before(cur.AuthorizedAt) {
			first[key] = r
		}
	}
	out := make([]models.Record, 0, len(first))
	for _, r := range first {
		out = append(out, r)
	}
	return out
}

// byMeasure aggregates records over one dimension and returns the top n rows
// of measure, descending. Rows with a missing key are dropped.
func byMeasure(records []models.Record, dim pipeline.Dimension, measure string, n int, measures ...pipeline.Measure) pipeline.Table {
	return pipeline.Aggregate(records, []pipeline.Dimension{dim}, measures...).
		Present().
		SortBy(measure, true).
		Head(n)
}

func spendMeasures(entity pipeline.EntityField) []pipeline.Measure {
	return []pipeline.Measure{
		pipeline.Sum(measureSpend, pipeline.AmountUSD),
		pipeline.Count(measureTx),
		pipeline.DistinctCount(measureUsers, pipeline.ByEntity(entity)),
	}
}

// Views lists the names accepted by View.
var Views = []string{"overview", "time", "countries", "retention", "merchants", "analytics", "monthly", "risk", "quality"}

// View returns one named view of the report.
func (r *Report) View(name string) (any, bool) {
	switch name {
	case "overview":
		return r.Overview, true
	case "time":
		return r.Time, true
	case "countries":
		return r.Countries, true
	case "retention":
		return r.Retention, true
	case "merchants":
		return r.Merchants, true
	case "analytics":
		return r.Analytics, true
	case "monthly":
		return r.Monthly, true
	case "risk":
		return r.Risk, true
	case "quality":
		return r.Quality, true
	}
	return nil, false
}
