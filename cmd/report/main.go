// Command spend-report fetches the transaction table, derives the dashboard
// views and prints them as JSON.
//
// Usage:
//
//	spend-report --driver csv --csv export.csv --view monthly --month 2025-05
//	spend-report months
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/urfave/cli/v2"

	"spend-dashboard/internal/config"
	"spend-dashboard/internal/observability"
	"spend-dashboard/internal/pipeline"
	"spend-dashboard/internal/reports"
	"spend-dashboard/internal/source"
)

var version = "dev"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "spend-report",
		Usage:     "Derive spend dashboard views from the transaction table",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "driver",
				Usage: "Transaction source (" + strings.Join([]string{config.DriverCSV, config.DriverPostgres, config.DriverBigQuery, config.DriverClickHouse}, ", ") + ")",
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "Path to a CSV export (csv driver)",
			},
			&cli.StringFlag{
				Name:  "dsn",
				Usage: "Connection string (postgres driver)",
			},
			&cli.StringFlag{
				Name:  "table",
				Usage: "Source table name",
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Rows per page",
			},
			&cli.IntFlag{
				Name:  "max-pages",
				Usage: "Maximum pages to fetch",
			},
			&cli.StringFlag{
				Name:  "entity",
				Usage: "Entity key (user, email)",
			},
			&cli.StringFlag{
				Name:    "view",
				Aliases: []string{"v"},
				Value:   "all",
				Usage:   "View to print (all, " + strings.Join(reports.Views, ", ") + ")",
			},
			&cli.StringFlag{
				Name:    "month",
				Aliases: []string{"m"},
				Usage:   "Month for the monthly view (YYYY-MM, default latest)",
			},
			&cli.BoolFlag{
				Name:  "compact",
				Usage: "Print JSON without indentation",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Action: runReport,
		Commands: []*cli.Command{
			{
				Name:   "months",
				Usage:  "List the months with completed transactions, latest first",
				Action: runMonths,
			},
		},
	}
}

// loadConfig reads the environment configuration and applies the flags that
// were set on the command line.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if c.IsSet("driver") {
		cfg.Source.Driver = c.String("driver")
	}
	if c.IsSet("csv") {
		cfg.Source.CSVFile = c.String("csv")
	}
	if c.IsSet("dsn") {
		cfg.Source.DSN = c.String("dsn")
	}
	if c.IsSet("table") {
		cfg.Source.Table = c.String("table")
	}
	if c.IsSet("page-size") {
		cfg.Source.PageSize = c.Int("page-size")
	}
	if c.IsSet("max-pages") {
		cfg.Source.MaxPages = c.Int("max-pages")
	}
	if c.IsSet("entity") {
		cfg.Pipeline.EntityKey = c.String("entity")
	}
	if c.IsSet("log-level") {
		cfg.Logger.Level = c.String("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func buildReport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*reports.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Source.Timeout)
	defer cancel()

	src, err := source.New(ctx, cfg.Source)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	raw, err := source.FetchAll(ctx, src, source.Paging{PageSize: cfg.Source.PageSize, MaxPages: cfg.Source.MaxPages}, logger)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}

	records, quality, err := pipeline.Normalize(raw)
	if err != nil {
		return nil, err
	}
	logger.Info("transactions normalized",
		"records", len(records),
		"defaulted_amounts", quality.DefaultedAmounts,
		"missing_timestamps", quality.MissingTimestamps,
	)

	return reports.Build(ctx, records, quality, cfg.Pipeline.Params())
}

func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	return cfg, observability.NewLoggerTo(c.App.ErrWriter, cfg.Logger), nil
}

func runReport(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	view := c.String("view")
	if view != "all" && !slices.Contains(reports.Views, view) {
		return fmt.Errorf("unknown view %q, must be one of: all, %s", view, strings.Join(reports.Views, ", "))
	}

	report, err := buildReport(c.Context, cfg, logger)
	if err != nil {
		return err
	}

	var out any = report
	switch view {
	case "monthly":
		if out, err = report.MonthlyFor(c.String("month")); err != nil {
			return err
		}
	case "all":
		if c.IsSet("month") {
			if report.Monthly, err = report.MonthlyFor(c.String("month")); err != nil {
				return err
			}
		}
	default:
		out, _ = report.View(view)
	}

	return writeJSON(c.App.Writer, out, !c.Bool("compact"))
}

func runMonths(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	report, err := buildReport(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	for _, m := range report.Monthly.Months {
		fmt.Fprintln(c.App.Writer, m)
	}
	return nil
}

func writeJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
