package observability

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "OK"
	SpanStatusError SpanStatus = "ERROR"
)

// Span times one operation such as a request or a report refresh. Spans are
// logged when they end, never exported. Attributes may be set from several
// goroutines.
type Span struct {
	TraceID   string
	SpanID    string
	ParentID  string
	Operation string
	StartTime time.Time
	Duration  time.Duration
	Status    SpanStatus
	Error     string

	mu    sync.Mutex
	attrs []slog.Attr
}

type spanContextKey struct{}

func StartSpan(ctx context.Context, operation string) (context.Context, *Span) {
	span := &Span{
		SpanID:    newID(),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanStatusOK,
	}
	if parent := GetSpan(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	} else {
		span.TraceID = newID()
	}
	return context.WithValue(ctx, spanContextKey{}, span), span
}

func GetSpan(ctx context.Context) *Span {
	span, _ := ctx.Value(spanContextKey{}).(*Span)
	return span
}

// SetTag records a string attribute.
func (s *Span) SetTag(key, value string) { s.SetAttr(key, value) }

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Attr returns the last value recorded under key.
func (s *Span) Attr(key string) (slog.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.attrs) - 1; i >= 0; i-- {
		if s.attrs[i].Key == key {
			return s.attrs[i].Value, true
		}
	}
	return slog.Value{}, false
}

// End stops the clock and logs the span: debug when it succeeded, warn when
// err is set.
func (s *Span) End(logger *slog.Logger, err error) {
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	level := slog.LevelDebug
	if err != nil {
		s.Status = SpanStatusError
		s.Error = err.Error()
		level = slog.LevelWarn
	}
	attrs := make([]slog.Attr, 0, len(s.attrs)+6)
	attrs = append(attrs,
		slog.String("operation", s.Operation),
		slog.String("trace_id", s.TraceID),
		slog.String("span_id", s.SpanID),
		slog.Duration("duration", s.Duration),
		slog.String("status", string(s.Status)),
	)
	if s.ParentID != "" {
		attrs = append(attrs, slog.String("parent_id", s.ParentID))
	}
	attrs = append(attrs, s.attrs...)
	if s.Error != "" {
		attrs = append(attrs, slog.String("error", s.Error))
	}
	s.mu.Unlock()

	logger.LogAttrs(context.Background(), level, "span finished", attrs...)
}

func newID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}
