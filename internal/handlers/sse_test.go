package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spend-dashboard/internal/pipeline"
	"spend-dashboard/internal/reports"
)

func checkSSEHeaders(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("expected content-type to contain 'text/event-stream', got %q", ct)
	}
}

func TestSSEHandlers_HandleSection(t *testing.T) {
	handlers := NewSSEHandlers(createTestAnalytics(t), quietLogger())

	tests := []struct {
		section string
		want    []string
	}{
		{"overview", []string{`id="overview-content"`, "$1,059.97", "datastar-patch-signals", "weeklySpend"}},
		{"time", []string{`id="time-content"`, "hourlySpend"}},
		{"countries", []string{`id="countries-content"`, "<td>CA</td>", "countryMap", "CAN"}},
		{"retention", []string{`id="retention-content"`, "100.0%"}},
		{"merchants", []string{`id="merchants-content"`, "Laptop Store", "$999.99"}},
		{"analytics", []string{`id="analytics-content"`, "n/a", "dauData"}},
		{"risk", []string{`id="risk-content"`, "U002", "50.0%"}},
		{"quality", []string{`id="quality-content"`, "Defaulted amounts: 0"}},
	}

	for _, tt := range tests {
		t.Run(tt.section, func(t *testing.T) {
			w := httptest.NewRecorder()
			handlers.HandleSection(tt.section)(w, httptest.NewRequest(http.MethodGet, "/sse/"+tt.section, nil))

			checkSSEHeaders(t, w)
			body := w.Body.String()
			if !strings.Contains(body, "datastar-patch-elements") {
				t.Error("expected an element patch")
			}
			for _, s := range tt.want {
				if !strings.Contains(body, s) {
					t.Errorf("expected body to contain %q", s)
				}
			}
		})
	}
}

func TestSSEHandlers_HandleSection_Unknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown section")
		}
	}()
	NewSSEHandlers(createTestAnalytics(t), quietLogger()).HandleSection("inventory")
}

func TestSSEHandlers_HandleMonthly(t *testing.T) {
	handlers := NewSSEHandlers(createTestAnalytics(t), quietLogger())

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"latest", "", []string{`id="monthly-content"`, "2025-05 compared with 2025-04", "$59.98", "-94.0%"}},
		{"first month has no delta", "?month=2025-04", []string{"2025-04", "n/a"}},
		{"unknown month", "?month=2019-01", []string{`id="alerts"`, "No completed transactions"}},
		{"malformed", "?month=bogus", []string{`id="alerts"`, "YYYY-MM"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handlers.HandleMonthly(w, httptest.NewRequest(http.MethodGet, "/sse/monthly"+tt.query, nil))

			checkSSEHeaders(t, w)
			body := w.Body.String()
			for _, s := range tt.want {
				if !strings.Contains(body, s) {
					t.Errorf("expected body to contain %q, got:\n%s", s, body)
				}
			}
		})
	}
}

func TestSSEHandlers_HandleRefreshAll(t *testing.T) {
	handlers := NewSSEHandlers(createTestAnalytics(t), quietLogger())

	w := httptest.NewRecorder()
	handlers.HandleRefreshAll(w, httptest.NewRequest(http.MethodGet, "/sse/refresh-all", nil))

	checkSSEHeaders(t, w)
	body := w.Body.String()
	for _, name := range append(sectionOrder, "monthly") {
		if !strings.Contains(body, `id="`+name+`-content"`) {
			t.Errorf("expected %s panel in refresh", name)
		}
	}
	if n := strings.Count(body, "event: datastar-patch-signals"); n != 1 {
		t.Errorf("expected one signals patch, got %d", n)
	}
}

func TestSSEHandlers_Unavailable(t *testing.T) {
	handlers := NewSSEHandlers(analyticsWithSource(rowsSource{err: errors.New("timeout")}), quietLogger())

	w := httptest.NewRecorder()
	handlers.HandleRefreshAll(w, httptest.NewRequest(http.MethodGet, "/sse/refresh-all", nil))

	body := w.Body.String()
	if !strings.Contains(body, `id="alerts"`) || !strings.Contains(body, "Transaction data is unavailable") {
		t.Errorf("expected alert patch, got:\n%s", body)
	}
	if strings.Contains(body, "overview-content") {
		t.Error("panels should not be patched without data")
	}
}

func TestRender_TableLimit(t *testing.T) {
	table := pipeline.Table{Dimensions: []string{"merchant"}, Measures: []string{"total_spend"}}
	for range maxTableRows + 25 {
		table.Rows = append(table.Rows, pipeline.Row{
			Keys:   []pipeline.Key{{Value: "shop"}},
			Values: []float64{1},
		})
	}

	html, err := render("table", table)
	if err != nil {
		t.Fatalf("render() error = %v", err)
	}
	if rows := strings.Count(html, "<tr>") - 1; rows != maxTableRows {
		t.Errorf("expected %d rows, got %d", maxTableRows, rows)
	}
}

func TestRender_EmptyMonthly(t *testing.T) {
	html, err := render("monthly", reports.Monthly{})
	if err != nil {
		t.Fatalf("render() error = %v", err)
	}
	if !strings.Contains(html, "No completed transactions yet") {
		t.Errorf("unexpected html: %s", html)
	}
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"money", money(1234567.891), "$1,234,567.89"},
		{"negative money", money(-50), "-$50.00"},
		{"zero money", money(0), "$0.00"},
		{"spend cell", formatCell("total_spend", 12.5), "$12.50"},
		{"count cell", formatCell("total_tx", 1200), "1,200"},
		{"delta", formatDelta(pipeline.PeriodDelta(150, 100)), "+50.0%"},
		{"inapplicable delta", formatDelta(pipeline.PeriodDelta(150, 0)), "n/a"},
		{"missing key", keyLabel(pipeline.Key{Missing: true}), "(none)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func BenchmarkSSEHandlers_HandleRefreshAll(b *testing.B) {
	handlers := NewSSEHandlers(createTestAnalytics(b), quietLogger())
	req := httptest.NewRequest(http.MethodGet, "/sse/refresh-all", nil)

	for b.Loop() {
		handlers.HandleRefreshAll(httptest.NewRecorder(), req)
	}
}
