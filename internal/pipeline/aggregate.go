package pipeline

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"spend-dashboard/internal/models"
)

// Dimension extracts one group-by key from a record. ok=false marks a missing
// key; such records are grouped together rather than dropped.
type Dimension struct {
	Name    string
	Extract func(models.Record) (value string, ok bool)
}

// NumericField extracts a summable value from a record.
type NumericField struct {
	Name  string
	Value func(models.Record) decimal.Decimal
}

type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// EntityField selects which identifier is treated as the entity.
type EntityField string

const (
	// EntityUser uses the user id, falling back to the email.
	EntityUser  EntityField = "user"
	EntityEmail EntityField = "email"
)

func EntityKey(r models.Record, f EntityField) string {
	if f == EntityEmail {
		return r.UserEmail
	}
	return r.EntityKey()
}

var (
	ByDate = Dimension{Name: "date", Extract: func(r models.Record) (string, bool) {
		return r.Date, r.HasTime
	}}
	ByHour = Dimension{Name: "hour", Extract: func(r models.Record) (string, bool) {
		if !r.HasTime {
			return "", false
		}
		return fmt.Sprintf("%02d", r.Hour), true
	}}
	ByWeek = Dimension{Name: "week", Extract: func(r models.Record) (string, bool) {
		return r.Week, r.HasTime
	}}
	ByMonth = Dimension{Name: "month", Extract: func(r models.Record) (string, bool) {
		return r.Month, r.HasTime
	}}
	ByCountry  = stringDimension("country", func(r models.Record) string { return r.MerchantCountry })
	ByMerchant = stringDimension("merchant", func(r models.Record) string { return r.MerchantName })
	ByCategory = stringDimension("category", func(r models.Record) string { return r.MerchantCategory })
	ByType     = stringDimension("type", func(r models.Record) string { return r.Type })
	ByStatus   = Dimension{Name: "status", Extract: func(r models.Record) (string, bool) {
		return string(r.Status), true
	}}

	AmountUSD = NumericField{Name: "amount_usd", Value: func(r models.Record) decimal.Decimal {
		return r.AmountUSD
	}}
	AbsAmountUSD = NumericField{Name: "abs_amount_usd", Value: func(r models.Record) decimal.Decimal {
		return r.AmountUSD.Abs()
	}}
)

func stringDimension(name string, get func(models.Record) string) Dimension {
	return Dimension{Name: name, Extract: func(r models.Record) (string, bool) {
		v := get(r)
		return v, v != ""
	}}
}

// ByEntity groups by the entity identifier.
func ByEntity(f EntityField) Dimension {
	return stringDimension("entity", func(r models.Record) string { return EntityKey(r, f) })
}

// Period returns the calendar dimension for a rollup granularity.
func Period(g Granularity) (Dimension, error) {
	switch g {
	case Daily:
		return ByDate, nil
	case Weekly:
		return ByWeek, nil
	case Monthly:
		return ByMonth, nil
	default:
		return Dimension{}, fmt.Errorf("unknown granularity %q", g)
	}
}

type measureKind int

const (
	measureCount measureKind = iota
	measureSum
	measureDistinct
)

type Measure struct {
	Name  string
	kind  measureKind
	field NumericField
	dim   Dimension
}

func Count(name string) Measure {
	return Measure{Name: name, kind: measureCount}
}

func Sum(name string, field NumericField) Measure {
	return Measure{Name: name, kind: measureSum, field: field}
}

// DistinctCount counts distinct present values of dim; missing values are not
// counted.
func DistinctCount(name string, dim Dimension) Measure {
	return Measure{Name: name, kind: measureDistinct, dim: dim}
}

type Key struct {
	Value   string
	Missing bool
}

func (k Key) MarshalJSON() ([]byte, error) {
	if k.Missing {
		return []byte("null"), nil
	}
	return json.Marshal(k.Value)
}

type Row struct {
	Keys   []Key
	Values []float64
}

// Table is an aggregation result. Rows are unique by Keys.
type Table struct {
	Dimensions []string
	Measures   []string
	Rows       []Row
}

type group struct {
	keys     []Key
	count    int
	sums     []decimal.Decimal
	distinct []map[string]struct{}
}

// Aggregate partitions records by the composite key of dims and computes all
// measures over the same group membership in a single pass. Rows come back
// ordered by key, missing keys last.
func Aggregate(records []models.Record, dims []Dimension, measures ...Measure) Table {
	t := Table{
		Dimensions: make([]string, len(dims)),
		Measures:   make([]string, len(measures)),
		Rows:       []Row{},
	}
	for i, d := range dims {
		t.Dimensions[i] = d.Name
	}
	for i, m := range measures {
		t.Measures[i] = m.Name
	}

	index := make(map[string]*group)
	var groups []*group

	for _, r := range records {
		keys := make([]Key, len(dims))
		for i, d := range dims {
			v, ok := d.Extract(r)
			keys[i] = Key{Value: v, Missing: !ok}
		}

		id := groupID(keys)
		g, ok := index[id]
		if !ok {
			g = &group{
				keys:     keys,
				sums:     make([]decimal.Decimal, len(measures)),
				distinct: make([]map[string]struct{}, len(measures)),
			}
			for i, m := range measures {
				if m.kind == measureDistinct {
					g.distinct[i] = make(map[string]struct{})
				}
			}
			index[id] = g
			groups = append(groups, g)
		}

		g.count++
		for i, m := range measures {
			switch m.kind {
			case measureSum:
				g.sums[i] = g.sums[i].Add(m.field.Value(r))
			case measureDistinct:
				if v, ok := m.dim.Extract(r); ok {
					g.distinct[i][v] = struct{}{}
				}
			}
		}
	}

	for _, g := range groups {
		row := Row{Keys: g.keys, Values: make([]float64, len(measures))}
		for i, m := range measures {
			switch m.kind {
			case measureCount:
				row.Values[i] = float64(g.count)
			case measureSum:
				row.Values[i] = g.sums[i].InexactFloat64()
			case measureDistinct:
				row.Values[i] = float64(len(g.distinct[i]))
			}
		}
		t.Rows = append(t.Rows, row)
	}

	slices.SortStableFunc(t.Rows, func(a, b Row) int { return compareKeys(a.Keys, b.Keys) })
	return t
}

func groupID(keys []Key) string {
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		if k.Missing {
			b.WriteByte(0)
			continue
		}
		b.WriteByte(1)
		b.WriteString(k.Value)
	}
	return b.String()
}

func compareKeys(a, b []Key) int {
	for i := range a {
		switch {
		case a[i].Missing && b[i].Missing:
			continue
		case a[i].Missing:
			return 1
		case b[i].Missing:
			return -1
		}
		if c := cmp.Compare(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return 0
}

// MeasureIndex returns the column of a measure, or -1.
func (t Table) MeasureIndex(name string) int {
	return slices.Index(t.Measures, name)
}

// Value returns measure name of row i, or 0 when the measure is unknown.
func (t Table) Value(i int, name string) float64 {
	m := t.MeasureIndex(name)
	if m < 0 || i < 0 || i >= len(t.Rows) {
		return 0
	}
	return t.Rows[i].Values[m]
}

// Lookup finds the row whose present keys equal values.
func (t Table) Lookup(values ...string) (Row, bool) {
	for _, row := range t.Rows {
		if len(row.Keys) != len(values) {
			continue
		}
		match := true
		for i, k := range row.Keys {
			if k.Missing || k.Value != values[i] {
				match = false
				break
			}
		}
		if match {
			return row, true
		}
	}
	return Row{}, false
}

// Total sums a measure across all rows.
func (t Table) Total(name string) float64 {
	m := t.MeasureIndex(name)
	if m < 0 {
		return 0
	}
	var total float64
	for _, row := range t.Rows {
		total += row.Values[m]
	}
	return total
}

// Column returns a measure's values in row order.
func (t Table) Column(name string) []float64 {
	m := t.MeasureIndex(name)
	out := make([]float64, 0, len(t.Rows))
	if m < 0 {
		return out
	}
	for _, row := range t.Rows {
		out = append(out, row.Values[m])
	}
	return out
}

// Present drops rows with any missing key. Time-bucketed views use it to
// exclude records without a timestamp.
func (t Table) Present() Table {
	out := t.withRows(make([]Row, 0, len(t.Rows)))
	for _, row := range t.Rows {
		if !slices.ContainsFunc(row.Keys, func(k Key) bool { return k.Missing }) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// SortBy orders rows by a measure; ties keep key order.
func (t Table) SortBy(name string, desc bool) Table {
	out := t.withRows(slices.Clone(t.Rows))
	m := t.MeasureIndex(name)
	if m < 0 {
		return out
	}
	slices.SortStableFunc(out.Rows, func(a, b Row) int {
		c := cmp.Compare(a.Values[m], b.Values[m])
		if desc {
			return -c
		}
		return c
	})
	return out
}

func (t Table) Head(n int) Table {
	if n < 0 || n >= len(t.Rows) {
		return t.withRows(slices.Clone(t.Rows))
	}
	return t.withRows(slices.Clone(t.Rows[:n]))
}

// Tail keeps the last n rows.
func (t Table) Tail(n int) Table {
	if n < 0 || n >= len(t.Rows) {
		return t.withRows(slices.Clone(t.Rows))
	}
	return t.withRows(slices.Clone(t.Rows[len(t.Rows)-n:]))
}

func (t Table) withRows(rows []Row) Table {
	return Table{Dimensions: t.Dimensions, Measures: t.Measures, Rows: rows}
}

// MarshalJSON renders rows as objects of named columns.
func (t Table) MarshalJSON() ([]byte, error) {
	rows := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		obj := make(map[string]any, len(t.Dimensions)+len(t.Measures))
		for i, name := range t.Dimensions {
			obj[name] = row.Keys[i]
		}
		for i, name := range t.Measures {
			obj[name] = row.Values[i]
		}
		rows = append(rows, obj)
	}
	return json.Marshal(struct {
		Dimensions []string         `json:"dimensions"`
		Measures   []string         `json:"measures"`
		Rows       []map[string]any `json:"rows"`
	}{t.Dimensions, t.Measures, rows})
}

// PivotTable has one row per index key and one column per vocabulary entry.
type PivotTable struct {
	Index   string     `json:"index"`
	Columns []string   `json:"columns"`
	Rows    []PivotRow `json:"rows"`
}

type PivotRow struct {
	Key    string    `json:"key"`
	Values []float64 `json:"values"`
}

// Pivot reshapes a two-dimension table into one column per entry of columns.
// Combinations absent from the data are zero; rows with a missing index key
// and column values outside the vocabulary are left out.
func Pivot(t Table, measure string, columns []string) PivotTable {
	p := PivotTable{Columns: slices.Clone(columns), Rows: []PivotRow{}}
	if len(t.Dimensions) != 2 {
		return p
	}
	p.Index = t.Dimensions[0]

	m := t.MeasureIndex(measure)
	if m < 0 {
		return p
	}

	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		colIndex[c] = i
	}

	rowIndex := make(map[string]int)
	for _, row := range t.Rows {
		idx, col := row.Keys[0], row.Keys[1]
		if idx.Missing {
			continue
		}
		r, ok := rowIndex[idx.Value]
		if !ok {
			r = len(p.Rows)
			rowIndex[idx.Value] = r
			p.Rows = append(p.Rows, PivotRow{Key: idx.Value, Values: make([]float64, len(columns))})
		}
		if c, ok := colIndex[col.Value]; ok && !col.Missing {
			p.Rows[r].Values[c] += row.Values[m]
		}
	}

	slices.SortFunc(p.Rows, func(a, b PivotRow) int { return cmp.Compare(a.Key, b.Key) })
	return p
}

// Column returns one pivot column in row order.
func (p PivotTable) Column(name string) []float64 {
	c := slices.Index(p.Columns, name)
	out := make([]float64, 0, len(p.Rows))
	if c < 0 {
		return out
	}
	for _, row := range p.Rows {
		out = append(out, row.Values[c])
	}
	return out
}

// StatusColumns converts a status vocabulary into pivot column names.
func StatusColumns(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
