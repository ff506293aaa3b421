package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"spend-dashboard/internal/reports"
	"spend-dashboard/internal/services"
)

// section is one dashboard panel: an HTML fragment plus the chart signals
// that go with it.
type section struct {
	template string
	data     func(*reports.Report) any
	signals  func(*reports.Report) map[string]any
}

var sections = map[string]section{
	"overview": {
		template: "overview",
		data:     func(r *reports.Report) any { return r.Overview },
		signals: func(r *reports.Report) map[string]any {
			return map[string]any{
				"weeklySpend":    r.Overview.WeeklySpend,
				"weeklyNewUsers": r.Overview.WeeklyNewUsers,
				"statusData":     r.Overview.StatusDistribution,
			}
		},
	},
	"time": {
		template: "time",
		data:     func(r *reports.Report) any { return r.Time },
		signals: func(r *reports.Report) map[string]any {
			return map[string]any{
				"hourlySpend":        r.Time.HourlySpend,
				"dailySpendByStatus": r.Time.DailySpendByStatus,
				"dailyCountByStatus": r.Time.DailyCountByStatus,
				"dailyNegative":      r.Time.DailyNegativeByStatus,
			}
		},
	},
	"countries": {
		template: "countries",
		data:     func(r *reports.Report) any { return r.Countries },
		signals: func(r *reports.Report) map[string]any {
			return map[string]any{"countryMap": r.Countries.Map}
		},
	},
	"retention": {
		template: "retention",
		data:     func(r *reports.Report) any { return r.Retention },
	},
	"merchants": {
		template: "merchants",
		data:     func(r *reports.Report) any { return r.Merchants },
	},
	"analytics": {
		template: "analytics",
		data:     func(r *reports.Report) any { return r.Analytics },
		signals: func(r *reports.Report) map[string]any {
			return map[string]any{
				"dauData":          r.Analytics.DAU,
				"topCountryCounts": r.Analytics.TopCountryCounts,
			}
		},
	},
	"risk": {
		template: "risk",
		data:     func(r *reports.Report) any { return r.Risk },
	},
	"quality": {
		template: "quality",
		data:     func(r *reports.Report) any { return r.Quality },
	},
}

// sectionOrder is the order refresh-all patches the panels in.
var sectionOrder = []string{"overview", "time", "countries", "retention", "merchants", "analytics", "risk", "quality"}

type SSEHandlers struct {
	analytics *services.Analytics
	logger    *slog.Logger
}

func NewSSEHandlers(analytics *services.Analytics, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		analytics: analytics,
		logger:    logger,
	}
}

// HandleSection returns a handler patching the named panel.
func (h *SSEHandlers) HandleSection(name string) http.HandlerFunc {
	sec, ok := sections[name]
	if !ok {
		panic("unknown dashboard section " + name)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		sse := datastar.NewSSE(w, r)

		report, err := h.analytics.Report(r.Context())
		if err != nil {
			h.patchAlert(sse, err)
			return
		}

		signals := map[string]any{}
		if err := h.patchSection(sse, sec, report, signals); err != nil {
			h.logger.Error("patch section", "section", name, "error", err)
			return
		}
		h.patchSignals(sse, signals)
		flush(w)
	}
}

func (h *SSEHandlers) HandleMonthly(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	month, err := parseMonth(r)
	if err != nil {
		h.patchAlert(sse, err)
		return
	}

	data, err := h.analytics.Monthly(r.Context(), month)
	if err != nil {
		h.patchAlert(sse, err)
		return
	}

	html, err := render("monthly", data)
	if err != nil {
		h.logger.Error("render monthly", "error", err)
		return
	}
	sse.PatchElements(html)

	h.patchSignals(sse, map[string]any{
		"months":       data.Months,
		"month":        data.Selected,
		"monthlyDaily": data.DailyTrend,
	})
	flush(w)
}

func (h *SSEHandlers) HandleRefreshAll(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	report, err := h.analytics.Report(r.Context())
	if err != nil {
		h.patchAlert(sse, err)
		return
	}

	// all chart signals go out in one patch
	signals := map[string]any{}
	for _, name := range sectionOrder {
		if err := h.patchSection(sse, sections[name], report, signals); err != nil {
			h.logger.Error("patch section", "section", name, "error", err)
			return
		}
	}

	html, err := render("monthly", report.Monthly)
	if err != nil {
		h.logger.Error("render monthly", "error", err)
		return
	}
	sse.PatchElements(html)
	signals["months"] = report.Monthly.Months
	signals["month"] = report.Monthly.Selected
	signals["monthlyDaily"] = report.Monthly.DailyTrend

	h.patchSignals(sse, signals)
	flush(w)
}

func (h *SSEHandlers) patchSection(sse *datastar.ServerSentEventGenerator, sec section, report *reports.Report, signals map[string]any) error {
	html, err := render(sec.template, sec.data(report))
	if err != nil {
		return err
	}
	sse.PatchElements(html)

	if sec.signals != nil {
		for k, v := range sec.signals(report) {
			signals[k] = v
		}
	}
	return nil
}

func (h *SSEHandlers) patchSignals(sse *datastar.ServerSentEventGenerator, signals map[string]any) {
	if len(signals) == 0 {
		return
	}
	jsonData, err := json.Marshal(signals)
	if err != nil {
		h.logger.Error("marshal signals", "error", err)
		return
	}
	sse.PatchSignals(jsonData)
}

// patchAlert shows the failure in the alert area; the panels keep their
// previous content.
func (h *SSEHandlers) patchAlert(sse *datastar.ServerSentEventGenerator, err error) {
	h.logger.Warn("dashboard update failed", "error", err)

	html, renderErr := render("alert", appError(err).Message)
	if renderErr != nil {
		h.logger.Error("render alert", "error", renderErr)
		return
	}
	sse.PatchElements(html)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
