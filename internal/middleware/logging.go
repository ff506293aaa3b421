package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"spend-dashboard/internal/observability"
)

// statusRecorder captures what the handler wrote. It forwards Flush so SSE
// streams keep working behind the logging and tracing layers.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w}
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (rw *statusRecorder) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// Logger writes one access line per request. Server errors log at error
// level, client errors at warn. The request ID comes from the context.
func Logger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)

			next.ServeHTTP(rec, r)

			status := rec.code()
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", rec.bytes,
				"duration", time.Since(start),
				"remote_addr", clientIP(r),
			}
			if id := rec.Header().Get("X-Report-ID"); id != "" {
				attrs = append(attrs, "report_id", id)
			}
			logger.Log(r.Context(), level, "request completed", attrs...)
		})
	}
}

func Tracing(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := observability.StartSpan(r.Context(), r.Method+" "+r.URL.Path)
			span.SetTag("http.method", r.Method)
			span.SetTag("request_id", observability.GetRequestID(ctx))
			if r.Header.Get("Datastar-Request") != "" {
				span.SetTag("sse", "true")
			}

			rec := record(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			status := rec.code()
			span.SetTag("http.status_code", strconv.Itoa(status))
			var err error
			if status >= 500 {
				err = fmt.Errorf("HTTP %d", status)
			}
			span.End(logger, err)
		})
	}
}
