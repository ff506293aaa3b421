package pipeline

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"spend-dashboard/internal/models"
)

const (
	cancelStatus = models.StatusReversed
	failStatus   = models.StatusDeclined
)

type RiskParams struct {
	Entity              EntityField
	CancelRateThreshold float64
	FailRateThreshold   float64
	RepeatThreshold     int
	LateNightStartHour  int
	LateNightEndHour    int
}

// RiskSummary scores one entity. Rates are fractions of the entity's rows;
// amounts sum absolute values.
type RiskSummary struct {
	Entity          string  `json:"entity"`
	Transactions    int     `json:"transactions"`
	Cancelled       int     `json:"cancelled"`
	Failed          int     `json:"failed"`
	CancelRate      float64 `json:"cancel_rate"`
	FailRate        float64 `json:"fail_rate"`
	CancelAmount    float64 `json:"cancel_amount"`
	FailAmount      float64 `json:"fail_amount"`
	MaxCancelStreak int     `json:"max_cancel_streak"`
	Suspicious      bool    `json:"suspicious"`
}

type StreakRow struct {
	Entity        string        `json:"entity"`
	TransactionID string        `json:"transaction_id"`
	AuthorizedAt  *time.Time    `json:"authorized_at"`
	Status        models.Status `json:"status"`
	Streak        int           `json:"streak"`
}

// MirrorFlag marks an entity that has both +amount and -amount transactions.
type MirrorFlag struct {
	Entity        string  `json:"entity"`
	AbsAmountUSD  float64 `json:"abs_amount_usd"`
	PositiveCount int     `json:"positive_count"`
	NegativeCount int     `json:"negative_count"`
}

// RepeatFlag marks the same amount charged to one entity many times in a day.
type RepeatFlag struct {
	Entity    string  `json:"entity"`
	AmountUSD float64 `json:"amount_usd"`
	Date      string  `json:"date"`
	Count     int     `json:"count"`
}

type LateNightRow struct {
	Entity        string        `json:"entity"`
	TransactionID string        `json:"transaction_id"`
	AuthorizedAt  time.Time     `json:"authorized_at"`
	Status        models.Status `json:"status"`
	AmountUSD     float64       `json:"amount_usd"`
}

// RiskReport is advisory: nothing in it alters the records it was built from.
type RiskReport struct {
	Summaries     []RiskSummary  `json:"summaries"`
	CancelStreaks []StreakRow    `json:"cancel_streaks"`
	Mirrors       []MirrorFlag   `json:"mirrors"`
	Repeats       []RepeatFlag   `json:"repeats"`
	LateNight     []LateNightRow `json:"late_night"`
}

// Risk scores every entity over the full status spectrum. Records without an
// entity key cannot be attributed and are skipped.
func Risk(records []models.Record, p RiskParams) RiskReport {
	byEntity := groupByEntity(records, p.Entity)

	report := RiskReport{
		Summaries:     make([]RiskSummary, 0, len(byEntity.order)),
		CancelStreaks: []StreakRow{},
		Mirrors:       MirrorPatterns(records, p.Entity),
		Repeats:       RepeatedAmounts(records, p.Entity, p.RepeatThreshold),
		LateNight:     LateNight(records, p.Entity, p.LateNightStartHour, p.LateNightEndHour),
	}

	for _, entity := range byEntity.order {
		rows := byEntity.rows[entity]
		summary := summarize(entity, rows, p)

		streaks := entityStreaks(entity, rows, cancelStatus)
		for _, s := range streaks {
			summary.MaxCancelStreak = max(summary.MaxCancelStreak, s.Streak)
			if s.Streak > 0 {
				report.CancelStreaks = append(report.CancelStreaks, s)
			}
		}
		report.Summaries = append(report.Summaries, summary)
	}
	return report
}

func summarize(entity string, rows []models.Record, p RiskParams) RiskSummary {
	s := RiskSummary{Entity: entity, Transactions: len(rows)}
	var cancelAmount, failAmount decimal.Decimal
	for _, r := range rows {
		switch r.Status {
		case cancelStatus:
			s.Cancelled++
			cancelAmount = cancelAmount.Add(r.AmountUSD.Abs())
		case failStatus:
			s.Failed++
			failAmount = failAmount.Add(r.AmountUSD.Abs())
		}
	}
	s.CancelRate = Ratio(float64(s.Cancelled), float64(s.Transactions))
	s.FailRate = Ratio(float64(s.Failed), float64(s.Transactions))
	s.CancelAmount = cancelAmount.InexactFloat64()
	s.FailAmount = failAmount.InexactFloat64()
	s.Suspicious = s.CancelRate > p.CancelRateThreshold || s.FailRate > p.FailRateThreshold
	return s
}

// Streaks lists, per entity and in chronological order, how many consecutive
// rows so far carry status. The counter resets on any other status and never
// carries over between entities.
func Streaks(records []models.Record, entity EntityField, status models.Status) []StreakRow {
	byEntity := groupByEntity(records, entity)
	out := make([]StreakRow, 0, len(records))
	for _, key := range byEntity.order {
		out = append(out, entityStreaks(key, byEntity.rows[key], status)...)
	}
	return out
}

// StreakSequence returns the running streak for each status in order.
func StreakSequence(statuses []models.Status, match models.Status) []int {
	out := make([]int, len(statuses))
	streak := 0
	for i, s := range statuses {
		if s == match {
			streak++
		} else {
			streak = 0
		}
		out[i] = streak
	}
	return out
}

func entityStreaks(entity string, rows []models.Record, status models.Status) []StreakRow {
	sorted := chronological(rows)
	statuses := make([]models.Status, len(sorted))
	for i, r := range sorted {
		statuses[i] = r.Status
	}
	seq := StreakSequence(statuses, status)

	out := make([]StreakRow, len(sorted))
	for i, r := range sorted {
		out[i] = StreakRow{
			Entity:        entity,
			TransactionID: r.ID,
			Status:        r.Status,
			Streak:        seq[i],
		}
		if r.HasTime {
			ts := r.AuthorizedAt
			out[i].AuthorizedAt = &ts
		}
	}
	return out
}

// chronological returns a sorted copy; rows without a timestamp go last in
// their original order.
func chronological(rows []models.Record) []models.Record {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b models.Record) int {
		switch {
		case a.HasTime && b.HasTime:
			return a.AuthorizedAt.Compare(b.AuthorizedAt)
		case a.HasTime:
			return -1
		case b.HasTime:
			return 1
		default:
			return 0
		}
	})
	return sorted
}

// MirrorPatterns flags (entity, |amount|) pairs where the same magnitude was
// seen with both signs.
func MirrorPatterns(records []models.Record, entity EntityField) []MirrorFlag {
	type mirrorKey struct {
		entity string
		cents  int64
	}
	type signs struct{ pos, neg int }

	seen := make(map[mirrorKey]*signs)
	for _, r := range records {
		key := EntityKey(r, entity)
		if key == "" || r.Amount == 0 {
			continue
		}
		k := mirrorKey{entity: key, cents: absInt(r.Amount)}
		s := seen[k]
		if s == nil {
			s = &signs{}
			seen[k] = s
		}
		if r.Amount > 0 {
			s.pos++
		} else {
			s.neg++
		}
	}

	out := []MirrorFlag{}
	for k, s := range seen {
		if s.pos > 0 && s.neg > 0 {
			out = append(out, MirrorFlag{
				Entity:        k.entity,
				AbsAmountUSD:  decimal.New(k.cents, -2).InexactFloat64(),
				PositiveCount: s.pos,
				NegativeCount: s.neg,
			})
		}
	}
	slices.SortFunc(out, func(a, b MirrorFlag) int {
		return cmp.Or(cmp.Compare(a.Entity, b.Entity), cmp.Compare(a.AbsAmountUSD, b.AbsAmountUSD))
	})
	return out
}

// RepeatedAmounts flags (entity, amount, date) buckets holding at least
// threshold transactions. Rows without a timestamp have no date and are
// not considered.
func RepeatedAmounts(records []models.Record, entity EntityField, threshold int) []RepeatFlag {
	type repeatKey struct {
		entity string
		cents  int64
		date   string
	}

	counts := make(map[repeatKey]int)
	for _, r := range records {
		key := EntityKey(r, entity)
		if key == "" || !r.HasTime {
			continue
		}
		counts[repeatKey{entity: key, cents: r.Amount, date: r.Date}]++
	}

	out := []RepeatFlag{}
	for k, n := range counts {
		if n >= threshold {
			out = append(out, RepeatFlag{
				Entity:    k.entity,
				AmountUSD: decimal.New(k.cents, -2).InexactFloat64(),
				Date:      k.date,
				Count:     n,
			})
		}
	}
	slices.SortFunc(out, func(a, b RepeatFlag) int {
		return cmp.Or(
			cmp.Compare(a.Entity, b.Entity),
			cmp.Compare(a.Date, b.Date),
			cmp.Compare(a.AmountUSD, b.AmountUSD),
		)
	})
	return out
}

// LateNight lists transactions authorized between startHour and endHour
// (inclusive, UTC), in input order.
func LateNight(records []models.Record, entity EntityField, startHour, endHour int) []LateNightRow {
	out := []LateNightRow{}
	for _, r := range records {
		if !r.HasTime || r.Hour < startHour || r.Hour > endHour {
			continue
		}
		out = append(out, LateNightRow{
			Entity:        EntityKey(r, entity),
			TransactionID: r.ID,
			AuthorizedAt:  r.AuthorizedAt,
			Status:        r.Status,
			AmountUSD:     r.AmountUSD.InexactFloat64(),
		})
	}
	return out
}

type entityGroups struct {
	order []string
	rows  map[string][]models.Record
}

func groupByEntity(records []models.Record, entity EntityField) entityGroups {
	g := entityGroups{rows: make(map[string][]models.Record)}
	for _, r := range records {
		key := EntityKey(r, entity)
		if key == "" {
			continue
		}
		if _, ok := g.rows[key]; !ok {
			g.order = append(g.order, key)
		}
		g.rows[key] = append(g.rows[key], r)
	}
	slices.Sort(g.order)
	return g
}

// absInt saturates at MaxInt64; -MinInt64 does not fit.
func absInt(n int64) int64 {
	if n == math.MinInt64 {
		return math.MaxInt64
	}
	if n < 0 {
		return -n
	}
	return n
}
