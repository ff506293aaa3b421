package reports

import (
	"cmp"
	"slices"

	"spend-dashboard/internal/pipeline"
)

const lateNightLimit = 20

// Risk is the advisory view. Summaries keep the highest cancel rates.
type Risk struct {
	Entities   int                     `json:"entities"`
	Suspicious int                     `json:"suspicious"`
	Summaries  []pipeline.RiskSummary  `json:"summaries"`
	Streaks    []pipeline.StreakRow    `json:"streaks"`
	Mirrors    []pipeline.MirrorFlag   `json:"mirrors"`
	Repeats    []pipeline.RepeatFlag   `json:"repeats"`
	LateNight  []pipeline.LateNightRow `json:"late_night"`
}

func BuildRisk(seg pipeline.Segments, p pipeline.Params) Risk {
	rr := pipeline.Risk(seg.All, p.Risk())

	summaries := slices.Clone(rr.Summaries)
	slices.SortStableFunc(summaries, func(a, b pipeline.RiskSummary) int {
		return cmp.Or(cmp.Compare(b.CancelRate, a.CancelRate), cmp.Compare(b.Transactions, a.Transactions))
	})

	out := Risk{
		Entities:  len(rr.Summaries),
		Summaries: head(summaries, p.TopRisk),
		Streaks:   rr.CancelStreaks,
		Mirrors:   rr.Mirrors,
		Repeats:   rr.Repeats,
		LateNight: head(rr.LateNight, lateNightLimit),
	}
	for _, s := range rr.Summaries {
		if s.Suspicious {
			out.Suspicious++
		}
	}
	return out
}

func head[T any](s []T, n int) []T {
	if n < 0 || n >= len(s) {
		return s
	}
	return s[:n]
}
