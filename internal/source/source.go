// Package source pages transaction rows out of the upstream table store.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"spend-dashboard/internal/config"
	"spend-dashboard/internal/models"
)

// Source returns one page of raw rows in a stable order.
type Source interface {
	FetchPage(ctx context.Context, offset, limit int) ([]models.RawRecord, error)
	Close() error
}

type Paging struct {
	PageSize int
	MaxPages int
}

// FetchAll reads pages until one comes back empty or short, or MaxPages have
// been read. A failing page aborts the whole fetch.
func FetchAll(ctx context.Context, src Source, paging Paging, logger *slog.Logger) ([]models.RawRecord, error) {
	if paging.PageSize <= 0 || paging.MaxPages <= 0 {
		return nil, fmt.Errorf("invalid paging %+v", paging)
	}

	var all []models.RawRecord
	for page := 0; page < paging.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := src.FetchPage(ctx, page*paging.PageSize, paging.PageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		logger.Debug("fetched page", "page", page, "rows", len(rows))

		all = append(all, rows...)
		if len(rows) < paging.PageSize {
			return all, nil
		}
	}

	logger.Warn("page limit reached, remaining rows not fetched", "max_pages", paging.MaxPages)
	return all, nil
}

// New opens the backend selected by cfg.Driver.
func New(ctx context.Context, cfg config.SourceConfig) (Source, error) {
	switch cfg.Driver {
	case config.DriverCSV:
		return NewCSV(cfg.CSVFile), nil
	case config.DriverPostgres:
		return NewPostgres(cfg.DSN, cfg.Table, cfg.OrderBy)
	case config.DriverBigQuery:
		return NewBigQuery(ctx, cfg.BigQueryProject, cfg.BigQueryDataset, cfg.Table, cfg.OrderBy)
	case config.DriverClickHouse:
		return NewClickHouse(ClickHouseOptions{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Table:    cfg.Table,
			OrderBy:  cfg.OrderBy,
		})
	default:
		return nil, fmt.Errorf("unknown source driver %q", cfg.Driver)
	}
}

// column and table names may carry a dot, as in "spend.authorizedAt"
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

func checkIdentifier(kind, name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}
