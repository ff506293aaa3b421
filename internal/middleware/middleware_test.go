package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"spend-dashboard/internal/config"
	"spend-dashboard/internal/observability"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"propagated", "abc-123", true},
		{"too long", strings.Repeat("x", maxRequestIDLen+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = observability.GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/overview", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			if got != seen {
				t.Errorf("header %q and context %q differ", got, seen)
			}
			if tt.keep && got != tt.incoming {
				t.Errorf("request id = %q, want %q", got, tt.incoming)
			}
			if !tt.keep && (got == tt.incoming || len(got) != 36) {
				t.Errorf("expected a generated uuid, got %q", got)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(config.SecurityConfig{EnableRateLimit: true, RateLimitRPS: 1, RateLimitBurst: 2})
	h := RateLimit(limiter, quietLogger())(okHandler())

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/overview", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d status = %d, want %d", i, codes[i], want[i])
		}
	}
}

func TestRateLimit_HealthExempt(t *testing.T) {
	limiter := NewRateLimiter(config.SecurityConfig{EnableRateLimit: true, RateLimitRPS: 1, RateLimitBurst: 1})
	h := RateLimit(limiter, quietLogger())(okHandler())

	for i := range 5 {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("probe %d status = %d", i, rec.Code)
		}
	}
	if limiter.Len() != 0 {
		t.Errorf("health probes should not allocate buckets, got %d", limiter.Len())
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(config.SecurityConfig{EnableRateLimit: true, RateLimitRPS: 5, RateLimitBurst: 5})
	limiter.now = func() time.Time { return now }
	limiter.lastSweep = now

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.2")
	if limiter.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", limiter.Len())
	}

	now = now.Add(limiterIdleTTL + time.Second)
	limiter.Allow("10.0.0.3")
	if limiter.Len() != 1 {
		t.Errorf("Len() after sweep = %d, want 1", limiter.Len())
	}
}

func TestLogger_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Report-ID", "rep-1")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/monthly", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["level"] != "WARN" || entry["status"] != float64(404) || entry["bytes"] != float64(7) || entry["report_id"] != "rep-1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	limiter := NewRateLimiter(config.SecurityConfig{EnableRateLimit: false})
	for range 10 {
		if !limiter.Allow("10.0.0.1") {
			t.Fatal("disabled limiter should allow every request")
		}
	}
}

func TestCORS(t *testing.T) {
	h := CORS(config.SecurityConfig{AllowedOrigins: []string{"https://dash.example.com"}})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/overview", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Errorf("allow origin = %q", got)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Errorf("vary = %q", rec.Header().Get("Vary"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/overview", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin %q", got)
	}
}

func TestTrustedProxy(t *testing.T) {
	var forwarded string
	h := TrustedProxy(config.SecurityConfig{TrustedProxies: []string{"127.0.0.1", "10.20.0.0/16", "not-an-ip"}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			forwarded = r.Header.Get("X-Forwarded-For")
		}))

	tests := []struct {
		remote string
		want   string
	}{
		{"127.0.0.1:1234", "203.0.113.7"},
		{"10.20.3.4:1234", "203.0.113.7"},
		{"10.1.1.1:1234", ""},
		{"[::ffff:127.0.0.1]:1234", "203.0.113.7"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if forwarded != tt.want {
			t.Errorf("remote %s: X-Forwarded-For = %q, want %q", tt.remote, forwarded, tt.want)
		}
	}
}

func TestRecovery(t *testing.T) {
	h := Chain(RequestID(), Recovery(quietLogger()))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/risk", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"INTERNAL_ERROR"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(mark("a"), mark("b"), mark("c"))(okHandler()).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("order = %v", order)
	}
}

func TestSecurityHeadersAndTracing(t *testing.T) {
	h := Chain(SecurityHeaders(), Tracing(quietLogger()))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.GetSpan(r.Context()) == nil {
			t.Error("span missing from request context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
}
