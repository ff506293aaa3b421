package pipeline

import (
	"cmp"
	"encoding/json"
	"slices"
)

// Ratio divides total by divisor, returning 0 for a zero divisor.
func Ratio(total, divisor float64) float64 {
	if divisor == 0 {
		return 0
	}
	return total / divisor
}

// Delta is a period-over-period change in percent. When the previous period
// is zero the change is not applicable, which is reported rather than zeroed.
type Delta struct {
	Percent    float64
	Applicable bool
}

func PeriodDelta(current, previous float64) Delta {
	if previous == 0 {
		return Delta{}
	}
	return Delta{Percent: (current - previous) / previous * 100, Applicable: true}
}

// MarshalJSON encodes an inapplicable delta as null.
func (d Delta) MarshalJSON() ([]byte, error) {
	if !d.Applicable {
		return []byte("null"), nil
	}
	return json.Marshal(d.Percent)
}

// TopShare is the share of the total held by the n largest values.
func TopShare(values []float64, n int) float64 {
	sorted := slices.Clone(values)
	slices.SortFunc(sorted, func(a, b float64) int { return cmp.Compare(b, a) })

	var total, top float64
	for i, v := range sorted {
		total += v
		if i < n {
			top += v
		}
	}
	return Ratio(top, total)
}
