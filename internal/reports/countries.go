package reports

import (
	"cmp"
	"slices"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"spend-dashboard/internal/models"
	"spend-dashboard/internal/pipeline"
)

var regionNames = display.Regions(language.English)

// CountryPoint is one marker of the country map.
type CountryPoint struct {
	Code         string `json:"code"`
	ISO3         string `json:"iso3"`
	Name         string `json:"name"`
	Transactions int    `json:"transactions"`
}

type Countries struct {
	// Spend holds completed and pending spend of the top countries by total.
	Spend pipeline.PivotTable `json:"spend"`
	Map   []CountryPoint      `json:"map"`
}

func BuildCountries(seg pipeline.Segments, p pipeline.Params) Countries {
	spend := pipeline.Pivot(
		pipeline.Aggregate(seg.Processed, []pipeline.Dimension{pipeline.ByCountry, pipeline.ByStatus},
			pipeline.Sum(measureSpend, pipeline.AmountUSD)),
		measureSpend, processedColumns)

	return Countries{
		Spend: topPivotRows(spend, p.TopCountries),
		Map:   countryMap(seg.Completed),
	}
}

// countryMap converts completed counts per ISO2 code into map points. Codes
// without a three-letter equivalent cannot be plotted and are dropped.
func countryMap(records []models.Record) []CountryPoint {
	t := pipeline.Aggregate(records, []pipeline.Dimension{pipeline.ByCountry}, pipeline.Count(measureTx)).
		Present().
		SortBy(measureTx, true)

	out := make([]CountryPoint, 0, len(t.Rows))
	for _, row := range t.Rows {
		code := row.Keys[0].Value
		iso3, name, ok := lookupRegion(code)
		if !ok {
			continue
		}
		out = append(out, CountryPoint{
			Code:         code,
			ISO3:         iso3,
			Name:         name,
			Transactions: int(row.Values[0]),
		})
	}
	return out
}

func lookupRegion(code string) (iso3, name string, ok bool) {
	if len(code) != 2 {
		return "", "", false
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return "", "", false
	}
	iso3 = region.ISO3()
	if iso3 == "" || iso3 == "ZZZ" {
		return "", "", false
	}
	name = regionNames.Name(region)
	if name == "" {
		name = code
	}
	return iso3, name, true
}

// topPivotRows keeps the n rows with the largest row total.
func topPivotRows(p pipeline.PivotTable, n int) pipeline.PivotTable {
	rows := slices.Clone(p.Rows)
	slices.SortStableFunc(rows, func(a, b pipeline.PivotRow) int {
		return cmp.Compare(rowTotal(b), rowTotal(a))
	})
	if n >= 0 && n < len(rows) {
		rows = rows[:n]
	}
	return pipeline.PivotTable{Index: p.Index, Columns: p.Columns, Rows: rows}
}

func rowTotal(r pipeline.PivotRow) float64 {
	var total float64
	for _, v := range r.Values {
		total += v
	}
	return total
}
