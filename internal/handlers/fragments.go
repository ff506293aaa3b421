package handlers

import (
	"html/template"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"spend-dashboard/internal/pipeline"
	"spend-dashboard/internal/reports"
)

const maxTableRows = 50

var printer = message.NewPrinter(language.English)

var fragmentFuncs = template.FuncMap{
	"money": money,
	"count": func(v float64) string { return printer.Sprintf("%.0f", v) },
	"pct":   func(fraction float64) string { return printer.Sprintf("%.1f%%", fraction*100) },
	"delta": formatDelta,
	"cell":  formatCell,
	"key":   func(k pipeline.Key) string { return keyLabel(k) },
	"limit": func(n int) int { return min(n, maxTableRows) },
	"retained": func(c pipeline.Cohort, i int) string {
		if i >= len(c.Percent) {
			return "-"
		}
		return printer.Sprintf("%.1f%%", c.Percent[i])
	},
	"offsets": func(n int) []struct{} { return make([]struct{}, n+1) },
	"deref":   func(v *float64) float64 { return *v },
	"totalsCard": func(label string, t reports.Totals) map[string]any {
		return map[string]any{"Label": label, "Totals": t}
	},
	"kpiCard": func(label string, k reports.KPI, isMoney bool) map[string]any {
		return map[string]any{"Label": label, "KPI": k, "Money": isMoney}
	},
}

func money(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.2f", -v)
	}
	return printer.Sprintf("$%.2f", v)
}

func formatDelta(d pipeline.Delta) string {
	if !d.Applicable {
		return "n/a"
	}
	return printer.Sprintf("%+.1f%%", d.Percent)
}

// formatCell renders a measure value; spend measures are money, the rest are
// counts.
func formatCell(measure string, v float64) string {
	if strings.Contains(measure, "spend") || strings.Contains(measure, "amount") {
		return money(v)
	}
	return printer.Sprintf("%.0f", v)
}

func keyLabel(k pipeline.Key) string {
	if k.Missing {
		return "(none)"
	}
	return k.Value
}

var fragments = template.Must(template.New("fragments").Funcs(fragmentFuncs).Parse(`
{{define "table"}}
<table class="modern-table">
<thead><tr>{{range .Dimensions}}<th>{{.}}</th>{{end}}{{range .Measures}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{$t := .}}{{range $i, $row := .Rows}}{{if lt $i (limit (len $t.Rows))}}<tr>
{{range $row.Keys}}<td>{{key .}}</td>{{end}}{{range $j, $v := $row.Values}}<td>{{cell (index $t.Measures $j) $v}}</td>{{end}}
</tr>{{end}}{{end}}
</tbody>
</table>
{{end}}

{{define "pivot"}}
<table class="modern-table">
<thead><tr><th>{{.Index}}</th>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr><td>{{.Key}}</td>{{range .Values}}<td>{{money .}}</td>{{end}}</tr>
{{end}}
</tbody>
</table>
{{end}}

{{define "totals"}}
<div class="kpi"><span class="kpi-label">{{.Label}}</span>
<strong>{{money .Totals.Volume}}</strong>
<span>{{.Totals.Transactions}} transactions, {{.Totals.Users}} users</span></div>
{{end}}

{{define "overview"}}
<div id="overview-content">
<div class="kpi-grid">
{{template "totals" (totalsCard "Processed" .Processed)}}
{{template "totals" (totalsCard "Completed" .Completed)}}
{{template "totals" (totalsCard "Pending" .Pending)}}
<div class="kpi"><span class="kpi-label">Raw rows</span><strong>{{.RawRows}}</strong></div>
<div class="kpi"><span class="kpi-label">Recurring users {{.Recurring.Week}}</span>
<strong>{{pct .Recurring.Share}}</strong><span>{{.Recurring.Recurring}} of {{.Recurring.Users}}</span></div>
<div class="kpi"><span class="kpi-label">Top country concentration</span><strong>{{pct .CountryConcentration}}</strong></div>
</div>
<table class="modern-table">
<thead><tr><th>Status</th><th>Transactions</th><th>Share</th></tr></thead>
<tbody>
{{range .StatusDistribution}}<tr><td><span class="status-badge status-{{.Status}}">{{.Status}}</span></td><td>{{.Count}}</td><td>{{pct .Share}}</td></tr>
{{end}}
</tbody>
</table>
</div>
{{end}}

{{define "time"}}
<div id="time-content">
<h3>Daily completed</h3>
{{template "table" .DailyCompleted}}
</div>
{{end}}

{{define "countries"}}
<div id="countries-content">
{{template "pivot" .Spend}}
</div>
{{end}}

{{define "retention"}}
<div id="retention-content">
<table class="modern-table retention">
<thead><tr><th>Cohort</th><th>Users</th>{{range $i, $_ := offsets .MaxOffset}}<th>+{{$i}}</th>{{end}}</tr></thead>
<tbody>
{{$m := .}}{{range .Cohorts}}{{$c := .}}<tr><td>{{.Start}}</td><td>{{.Size}}</td>{{range $i, $_ := offsets $m.MaxOffset}}<td>{{retained $c $i}}</td>{{end}}</tr>
{{end}}
</tbody>
</table>
</div>
{{end}}

{{define "merchants"}}
<div id="merchants-content">
<h3>Top users</h3>
{{template "table" .TopUsers}}
<h3>Top merchants by spend</h3>
{{template "table" .TopMerchantsBySpend}}
<h3>Top merchants by transactions</h3>
{{template "table" .TopMerchantsByCount}}
<h3>Top merchants by users</h3>
{{template "table" .TopMerchantsByUsers}}
<h3>Top categories</h3>
{{template "table" .TopCategoriesBySpend}}
</div>
{{end}}

{{define "analytics"}}
<div id="analytics-content">
<div class="kpi-grid">
<div class="kpi"><span class="kpi-label">Latest DAU</span><strong>{{.LatestDAU}}</strong></div>
<div class="kpi"><span class="kpi-label">Avg per transaction</span><strong>{{money .AvgPerTransaction}}</strong></div>
<div class="kpi"><span class="kpi-label">Avg per user</span><strong>{{money .AvgPerUser}}</strong></div>
<div class="kpi"><span class="kpi-label">Points conversion</span><strong>{{if .PointsConversion}}{{pct (deref .PointsConversion)}}{{else}}n/a{{end}}</strong></div>
<div class="kpi"><span class="kpi-label">Top country concentration</span><strong>{{pct .CountryConcentration}}</strong></div>
</div>
</div>
{{end}}

{{define "kpi"}}
<div class="kpi"><span class="kpi-label">{{.Label}}</span>
<strong>{{if .Money}}{{money .KPI.Current}}{{else}}{{count .KPI.Current}}{{end}}</strong>
<span class="delta">{{delta .KPI.Delta}} vs {{if .Money}}{{money .KPI.Previous}}{{else}}{{count .KPI.Previous}}{{end}}</span></div>
{{end}}

{{define "monthly"}}
<div id="monthly-content">
{{if .Selected}}
<p class="period">{{.Selected}}{{if .Previous}} compared with {{.Previous}}{{end}}</p>
<div class="kpi-grid">
{{template "kpi" (kpiCard "Spend" .Spend true)}}
{{template "kpi" (kpiCard "Transactions" .Transactions false)}}
{{template "kpi" (kpiCard "Users" .Users false)}}
<div class="kpi"><span class="kpi-label">New users</span><strong>{{.NewUsers}}</strong></div>
<div class="kpi"><span class="kpi-label">Avg per transaction</span><strong>{{money .AvgPerTransaction}}</strong></div>
<div class="kpi"><span class="kpi-label">Avg per user</span><strong>{{money .AvgPerUser}}</strong></div>
</div>
<h3>Top merchants</h3>
{{template "table" .TopMerchants}}
<h3>Top countries</h3>
{{template "table" .TopCountries}}
<h3>Top categories</h3>
{{template "table" .TopCategories}}
{{else}}
<p class="empty">No completed transactions yet.</p>
{{end}}
</div>
{{end}}

{{define "risk"}}
<div id="risk-content">
<p>{{.Suspicious}} of {{.Entities}} entities flagged.</p>
<table class="modern-table">
<thead><tr><th>Entity</th><th>Transactions</th><th>Cancel rate</th><th>Fail rate</th><th>Cancelled</th><th>Max streak</th></tr></thead>
<tbody>
{{range .Summaries}}<tr{{if .Suspicious}} class="suspicious"{{end}}>
<td>{{.Entity}}</td><td>{{.Transactions}}</td><td>{{pct .CancelRate}}</td><td>{{pct .FailRate}}</td><td>{{money .CancelAmount}}</td><td>{{.MaxCancelStreak}}</td>
</tr>
{{end}}
</tbody>
</table>
</div>
{{end}}

{{define "quality"}}
<div id="quality-content">
<ul class="quality">
<li>Rows: {{.TotalRows}}</li>
<li>Defaulted amounts: {{.DefaultedAmounts}}</li>
<li>Missing timestamps: {{.MissingTimestamps}}</li>
<li>Unknown statuses: {{.UnknownStatuses}}</li>
<li>Missing user keys: {{.MissingEntityKeys}}</li>
</ul>
</div>
{{end}}

{{define "alert"}}
<div id="alerts" class="alert alert-error">{{.}}</div>
{{end}}
`))

func render(name string, data any) (string, error) {
	var buf strings.Builder
	err := fragments.ExecuteTemplate(&buf, name, data)
	return buf.String(), err
}
