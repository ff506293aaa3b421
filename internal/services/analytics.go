package services

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"spend-dashboard/internal/models"
	"spend-dashboard/internal/observability"
	"spend-dashboard/internal/pipeline"
	"spend-dashboard/internal/reports"
	"spend-dashboard/internal/source"
)

const (
	cacheVersion = "v2"
	defaultTTL   = 5 * time.Minute
)

// ErrNoSource is returned by Refresh when the service was built without a
// source and no data was set.
var ErrNoSource = errors.New("no transaction source configured")

type Options struct {
	Source   source.Source
	Paging   source.Paging
	Params   pipeline.Params
	TTL      time.Duration
	CacheDir string
	Logger   *slog.Logger
}

// Analytics owns the current report. Readers get the cached report while it
// is younger than the TTL; after that the next reader refetches. A failed
// refetch keeps the previous report in service.
type Analytics struct {
	mu        sync.RWMutex
	report    *reports.Report
	fetchedAt time.Time
	lastErr   error

	refreshMu sync.Mutex
	refreshes atomic.Int64
	failures  atomic.Int64

	src      source.Source
	paging   source.Paging
	params   pipeline.Params
	ttl      time.Duration
	cacheDir string
	logger   *slog.Logger
	now      func() time.Time
}

func NewAnalytics(opts Options) *Analytics {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	paging := opts.Paging
	if paging.PageSize <= 0 || paging.MaxPages <= 0 {
		paging = source.Paging{PageSize: 5000, MaxPages: 50}
	}
	params := opts.Params
	if len(params.StatusOrder) == 0 {
		params = pipeline.DefaultParams()
	}

	return &Analytics{
		src:      opts.Source,
		paging:   paging,
		params:   params,
		ttl:      ttl,
		cacheDir: opts.CacheDir,
		logger:   logger,
		now:      time.Now,
	}
}

// SetData replaces the current report with one built from raw rows.
func (a *Analytics) SetData(ctx context.Context, raw []models.RawRecord) error {
	return a.load(ctx, raw)
}

// Report returns the current report, refetching it when it has expired.
func (a *Analytics) Report(ctx context.Context) (*reports.Report, error) {
	if r, fresh := a.current(); fresh {
		return r, nil
	}

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	// another reader may have refreshed while we waited
	prev, fresh := a.current()
	if fresh {
		return prev, nil
	}

	if err := a.refreshLocked(ctx); err != nil {
		if prev != nil {
			a.logger.Warn("refresh failed, serving previous report",
				"error", err,
				"report_id", prev.ID,
			)
			return prev, nil
		}
		return nil, err
	}

	r, _ := a.current()
	return r, nil
}

// Monthly returns the monthly view for month ("YYYY-MM", empty for latest).
func (a *Analytics) Monthly(ctx context.Context, month string) (reports.Monthly, error) {
	r, err := a.Report(ctx)
	if err != nil {
		return reports.Monthly{}, err
	}
	return r.MonthlyFor(month)
}

// Refresh refetches unconditionally.
func (a *Analytics) Refresh(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()
	return a.refreshLocked(ctx)
}

func (a *Analytics) current() (*reports.Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fresh := a.report != nil && a.now().Sub(a.fetchedAt) < a.ttl
	return a.report, fresh
}

func (a *Analytics) refreshLocked(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "refresh")
	defer func() {
		span.End(a.logger, err)
		if err != nil {
			a.failures.Add(1)
			a.mu.Lock()
			a.lastErr = err
			a.mu.Unlock()
		}
	}()

	if a.src == nil {
		return ErrNoSource
	}

	raw, err := source.FetchAll(ctx, a.src, a.paging, a.logger)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}
	span.SetAttr("rows", len(raw))

	return a.load(ctx, raw)
}

func (a *Analytics) load(ctx context.Context, raw []models.RawRecord) error {
	start := time.Now()

	records, quality, err := pipeline.Normalize(raw)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}

	if err := a.install(ctx, records, quality, a.now()); err != nil {
		return err
	}

	if err := a.saveSnapshot(records, quality); err != nil {
		a.logger.Warn("failed to save snapshot", "error", err)
	}

	a.logger.Info("report rebuilt",
		"records", len(records),
		"defaulted_amounts", quality.DefaultedAmounts,
		"missing_timestamps", quality.MissingTimestamps,
		"unknown_statuses", quality.UnknownStatuses,
		"duration", time.Since(start),
	)
	return nil
}

func (a *Analytics) install(ctx context.Context, records []models.Record, quality pipeline.Quality, fetchedAt time.Time) error {
	report, err := reports.Build(ctx, records, quality, a.params)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.report = report
	a.fetchedAt = fetchedAt
	a.lastErr = nil
	a.mu.Unlock()

	a.refreshes.Add(1)
	return nil
}

// snapshot is the on-disk form of the last normalized fetch.
type snapshot struct {
	FetchedAt time.Time
	Records   []models.Record
	Quality   pipeline.Quality
}

func (a *Analytics) snapshotPath() string {
	return filepath.Join(a.cacheDir, fmt.Sprintf("records_%s.gob", cacheVersion))
}

func (a *Analytics) saveSnapshot(records []models.Record, quality pipeline.Quality) error {
	if a.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return err
	}

	a.mu.RLock()
	fetchedAt := a.fetchedAt
	a.mu.RUnlock()

	tmp := a.snapshotPath() + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	encodeErr := gob.NewEncoder(file).Encode(snapshot{FetchedAt: fetchedAt, Records: records, Quality: quality})
	if err := file.Close(); encodeErr == nil {
		encodeErr = err
	}
	if encodeErr != nil {
		os.Remove(tmp)
		return encodeErr
	}
	return os.Rename(tmp, a.snapshotPath())
}

// LoadSnapshot installs the last saved fetch, keeping its original fetch time
// so an old snapshot is refetched on first use but still served if that
// refetch fails.
func (a *Analytics) LoadSnapshot(ctx context.Context) error {
	if a.cacheDir == "" {
		return os.ErrNotExist
	}

	file, err := os.Open(a.snapshotPath())
	if err != nil {
		return err
	}
	defer file.Close()

	var snap snapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	if err := a.install(ctx, snap.Records, snap.Quality, snap.FetchedAt); err != nil {
		return err
	}
	a.logger.Info("loaded snapshot", "records", len(snap.Records), "fetched_at", snap.FetchedAt)
	return nil
}

// Close releases the source.
func (a *Analytics) Close() error {
	if a.src == nil {
		return nil
	}
	return a.src.Close()
}

// Stats reports cache state for monitoring.
func (a *Analytics) Stats() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := map[string]any{
		"refreshes":  a.refreshes.Load(),
		"failures":   a.failures.Load(),
		"ttl":        a.ttl.String(),
		"fetched_at": a.fetchedAt,
		"stale":      a.report == nil || a.now().Sub(a.fetchedAt) >= a.ttl,
	}
	if a.report != nil {
		stats["report_id"] = a.report.ID
		stats["generated_at"] = a.report.GeneratedAt
		stats["record_count"] = a.report.RecordCount
		stats["quality"] = a.report.Quality
	}
	if a.lastErr != nil {
		stats["last_error"] = a.lastErr.Error()
	}
	return stats
}
