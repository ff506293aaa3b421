package pipeline

import (
	"slices"
	"time"

	"spend-dashboard/internal/models"
)

type RetentionOptions struct {
	Entity EntityField
	// Floor excludes cohorts that start before it. Zero means no floor.
	Floor time.Time
}

// Cohort is one retention row. Counts[d] is the number of distinct entities of
// the cohort active d days after its start. Percent is nil when the cohort has
// no day-0 entities.
type Cohort struct {
	Start      string    `json:"start"`
	Size       int       `json:"size"`
	Counts     []int     `json:"counts"`
	Percent    []float64 `json:"percent"`
	Normalized bool      `json:"normalized"`
}

type RetentionMatrix struct {
	MaxOffset int      `json:"max_offset"`
	Cohorts   []Cohort `json:"cohorts"`
}

// Retention builds the cohort retention matrix. Each entity's cohort is the
// first date it was active; records without a timestamp or entity key are
// ignored.
func Retention(records []models.Record, opts RetentionOptions) RetentionMatrix {
	first := make(map[string]time.Time)
	for _, r := range records {
		key := EntityKey(r, opts.Entity)
		if !r.HasTime || key == "" {
			continue
		}
		day := truncateDay(r.AuthorizedAt)
		if cur, ok := first[key]; !ok || day.Before(cur) {
			first[key] = day
		}
	}

	floor := truncateDay(opts.Floor)
	active := make(map[time.Time]map[int]map[string]struct{})
	maxOffset := 0

	for _, r := range records {
		key := EntityKey(r, opts.Entity)
		if !r.HasTime || key == "" {
			continue
		}
		start := first[key]
		if !opts.Floor.IsZero() && start.Before(floor) {
			continue
		}
		offset := daysBetween(start, truncateDay(r.AuthorizedAt))

		byOffset, ok := active[start]
		if !ok {
			byOffset = make(map[int]map[string]struct{})
			active[start] = byOffset
		}
		if byOffset[offset] == nil {
			byOffset[offset] = make(map[string]struct{})
		}
		byOffset[offset][key] = struct{}{}
		maxOffset = max(maxOffset, offset)
	}

	starts := make([]time.Time, 0, len(active))
	for start := range active {
		starts = append(starts, start)
	}
	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })

	m := RetentionMatrix{MaxOffset: maxOffset, Cohorts: make([]Cohort, 0, len(starts))}
	for _, start := range starts {
		byOffset := active[start]
		c := Cohort{
			Start:  start.Format(dateLayout),
			Counts: make([]int, maxOffset+1),
		}
		for offset, entities := range byOffset {
			c.Counts[offset] = len(entities)
		}
		c.Size = c.Counts[0]
		if c.Size > 0 {
			c.Percent = make([]float64, len(c.Counts))
			for i, n := range c.Counts {
				c.Percent[i] = float64(n) / float64(c.Size) * 100
			}
			c.Normalized = true
		}
		m.Cohorts = append(m.Cohorts, c)
	}
	return m
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
