package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spend-dashboard/internal/config"
	"spend-dashboard/internal/pipeline"
	"spend-dashboard/internal/server"
)

const exportCSV = "id,spend.userId,spend.amount,spend.status,spend.authorizedAt,spend.merchantCountry,spend.merchantName\n" +
	"T001,U001,99999,completed,2025-04-20T10:00:00Z,US,Laptop Store\n" +
	"T002,U002,5998,completed,2025-05-02T10:00:00Z,CA,Mouse Shop\n" +
	"T003,U002,1500,cancelled,2025-05-03T02:00:00Z,CA,Mouse Shop\n"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t testing.TB) *config.Config {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "export.csv")
	if err := os.WriteFile(csvPath, []byte(exportCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	p := pipeline.DefaultParams()
	return &config.Config{
		Source: config.SourceConfig{
			Driver:   config.DriverCSV,
			CSVFile:  csvPath,
			PageSize: 2,
			MaxPages: 10,
			Timeout:  5 * time.Second,
		},
		Cache: config.CacheConfig{TTL: time.Minute, Dir: filepath.Join(dir, "cache")},
		Pipeline: config.PipelineConfig{
			EntityKey:           string(p.Entity),
			StatusOrder:         pipeline.StatusColumns(p.StatusOrder),
			CancelRateThreshold: p.CancelRateThreshold,
			FailRateThreshold:   p.FailRateThreshold,
			RepeatThreshold:     p.RepeatThreshold,
			LateNightStartHour:  p.LateNightStartHour,
			LateNightEndHour:    p.LateNightEndHour,
			RetentionFloor:      p.RetentionFloor,
			RecurringMinTx:      p.RecurringMinTx,
			ConcentrationTopN:   p.ConcentrationTopN,
		},
		Security: config.SecurityConfig{
			EnableRateLimit: true,
			RateLimitRPS:    100,
			RateLimitBurst:  100,
			AllowedOrigins:  []string{"*"},
		},
	}
}

func newTestHandler(t testing.TB) http.Handler {
	t.Helper()
	cfg := testConfig(t)
	analytics, err := newAnalytics(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("newAnalytics() error = %v", err)
	}
	t.Cleanup(func() { analytics.Close() })

	srv := server.NewServer(analytics, quietLogger(), &server.TemplateHandlers{Dashboard: handleDashboard})
	return newHandler(srv, cfg, quietLogger())
}

func TestServer_Routes(t *testing.T) {
	handler := newTestHandler(t)

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{"/", http.StatusOK},
		{"/health", http.StatusOK},
		{"/admin/stats", http.StatusOK},
		{"/api/overview", http.StatusOK},
		{"/api/monthly?month=2025-04", http.StatusOK},
		{"/api/monthly?month=2030-01", http.StatusNotFound},
		{"/sse/refresh-all", http.StatusOK},
		{"/missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
			if w.Header().Get("X-Content-Type-Options") != "nosniff" {
				t.Error("expected security headers")
			}
		})
	}
}

func TestServer_OverviewFromCSV(t *testing.T) {
	handler := newTestHandler(t)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/overview", nil))

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			RawRows   int `json:"raw_rows"`
			Completed struct {
				Transactions int     `json:"transactions"`
				Volume       float64 `json:"volume"`
				Users        int     `json:"users"`
			} `json:"completed"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if !resp.Success || resp.Data.RawRows != 3 {
		t.Errorf("response = %+v", resp)
	}
	if c := resp.Data.Completed; c.Transactions != 2 || c.Users != 2 || c.Volume != 1059.97 {
		t.Errorf("completed = %+v", c)
	}
}

func TestNewAnalytics_SnapshotWritten(t *testing.T) {
	cfg := testConfig(t)
	analytics, err := newAnalytics(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("newAnalytics() error = %v", err)
	}
	defer analytics.Close()

	entries, err := os.ReadDir(cfg.Cache.Dir)
	if err != nil || len(entries) == 0 {
		t.Errorf("expected a snapshot in %s, err = %v", cfg.Cache.Dir, err)
	}
}

func TestNewAnalytics_MissingCSV(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.CSVFile = filepath.Join(t.TempDir(), "missing.csv")
	cfg.Cache.Dir = ""

	analytics, err := newAnalytics(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("a failed warm-up should not be fatal: %v", err)
	}
	defer analytics.Close()

	if _, err := analytics.Report(context.Background()); err == nil {
		t.Error("expected report error without data")
	}
}

func TestDashboardTemplate(t *testing.T) {
	w := httptest.NewRecorder()
	handleDashboard(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != cacheMaxAge {
		t.Errorf("cache-control = %q", cc)
	}
	body := w.Body.String()
	for _, s := range []string{"<!DOCTYPE html>", dashboardTitle, "/sse/refresh-all"} {
		if !strings.Contains(body, s) {
			t.Errorf("expected body to contain %q", s)
		}
	}
}

func BenchmarkServer_Overview(b *testing.B) {
	handler := newTestHandler(b)
	req := httptest.NewRequest(http.MethodGet, "/api/overview", nil)

	for b.Loop() {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
