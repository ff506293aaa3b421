// Package templates renders the dashboard page shell. Panels start empty and
// are filled by the /sse endpoints.
package templates

import (
	"context"
	"html/template"
	"io"

	"github.com/a-h/templ"
)

type panel struct {
	ID    string
	Title string
	Chart string
}

var panels = []panel{
	{ID: "overview", Title: "Overview", Chart: "weeklySpend"},
	{ID: "time", Title: "Time analysis", Chart: "hourlySpend"},
	{ID: "countries", Title: "Countries", Chart: "countryMap"},
	{ID: "retention", Title: "Cohort retention"},
	{ID: "merchants", Title: "Merchants and users"},
	{ID: "analytics", Title: "Analytics", Chart: "dauData"},
	{ID: "monthly", Title: "Monthly report", Chart: "monthlyDaily"},
	{ID: "risk", Title: "Risk"},
	{ID: "quality", Title: "Data quality"},
}

var page = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<script type="module" src="https://cdn.jsdelivr.net/gh/starfederation/datastar@v1.0.0-RC.5/bundles/datastar.js"></script>
<script src="https://cdn.jsdelivr.net/npm/chart.js@4"></script>
<style>
body { font-family: system-ui, sans-serif; margin: 0; background: #f6f7f9; color: #1d2330; }
header { display: flex; justify-content: space-between; align-items: center; padding: 1rem 2rem; background: #1d2330; color: #fff; }
main { display: grid; grid-template-columns: repeat(auto-fill, minmax(520px, 1fr)); gap: 1.5rem; padding: 2rem; }
section { background: #fff; border-radius: 8px; padding: 1rem 1.5rem; box-shadow: 0 1px 3px rgba(0,0,0,.08); overflow-x: auto; }
.kpi-grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(150px, 1fr)); gap: .75rem; }
.kpi { display: flex; flex-direction: column; padding: .5rem; border: 1px solid #e3e6eb; border-radius: 6px; }
.kpi-label { font-size: .8rem; color: #5b6475; }
.modern-table { width: 100%; border-collapse: collapse; font-size: .85rem; margin: .5rem 0; }
.modern-table th, .modern-table td { padding: .35rem .5rem; border-bottom: 1px solid #eceef2; text-align: left; }
.suspicious { background: #fff1f0; }
.alert-error { margin: 1rem 2rem; padding: .75rem 1rem; background: #fff1f0; border: 1px solid #f3b7b0; border-radius: 6px; }
</style>
</head>
<body data-signals="{month: ''}">
<header>
<h1>{{.Title}}</h1>
<div>
<select data-bind-month data-on-change="@get('/sse/monthly?month=' + $month)">
<option value="">Latest month</option>
</select>
<button data-on-click="@get('/sse/refresh-all')">Refresh</button>
</div>
</header>
<div id="alerts"></div>
<main>
{{range .Panels}}<section>
<h2>{{.Title}}</h2>
{{if .Chart}}<canvas data-chart="{{.Chart}}"></canvas>{{end}}
<div id="{{.ID}}-content" data-on-load="@get('/sse/{{.ID}}')">Loading...</div>
</section>
{{end}}
</main>
</body>
</html>
`))

// Dashboard renders the full page.
func Dashboard(title string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return page.Execute(w, map[string]any{
			"Title":  title,
			"Panels": panels,
		})
	})
}
