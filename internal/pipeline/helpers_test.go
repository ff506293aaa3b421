package pipeline

import (
	"testing"

	"spend-dashboard/internal/models"
)

type txSpec struct {
	id       string
	user     string
	status   string
	cents    any
	at       string
	country  string
	merchant string
}

func (s txSpec) raw() models.RawRecord {
	r := models.RawRecord{
		"id":                    s.id,
		"spend.userEmail":       s.user,
		"spend.status":          s.status,
		"spend.amount":          s.cents,
		"spend.authorizedAt":    s.at,
		"spend.merchantCountry": s.country,
		"spend.merchantName":    s.merchant,
	}
	return r
}

func mustNormalize(t testing.TB, specs ...txSpec) []models.Record {
	t.Helper()
	raw := make([]models.RawRecord, len(specs))
	for i, s := range specs {
		raw[i] = s.raw()
	}
	records, _, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	return records
}

func almostEqual(a, b float64) bool {
	const eps = 1e-9
	d := a - b
	return d < eps && d > -eps
}
