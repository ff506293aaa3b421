package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"spend-dashboard/internal/config"
	"spend-dashboard/internal/middleware"
	"spend-dashboard/internal/observability"
	"spend-dashboard/internal/server"
	"spend-dashboard/internal/services"
	"spend-dashboard/internal/source"
	"spend-dashboard/internal/ui/templates"
)

var version = "dev"

const (
	renderTimeout  = 10 * time.Second
	cacheMaxAge    = "public, max-age=300"
	dashboardTitle = "Spend Dashboard"
)

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	w.Header().Set("Cache-Control", cacheMaxAge)
	if err := templates.Dashboard(dashboardTitle).Render(ctx, w); err != nil {
		http.Error(w, "render error", http.StatusInternalServerError)
	}
}

// newAnalytics wires the configured source into the analytics service and
// warms it from the last snapshot and one fetch. A failed warm-up is logged,
// not fatal: the service retries on the next request.
func newAnalytics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services.Analytics, error) {
	src, err := source.New(ctx, cfg.Source)
	if err != nil {
		return nil, err
	}

	analytics := services.NewAnalytics(services.Options{
		Source:   src,
		Paging:   source.Paging{PageSize: cfg.Source.PageSize, MaxPages: cfg.Source.MaxPages},
		Params:   cfg.Pipeline.Params(),
		TTL:      cfg.Cache.TTL,
		CacheDir: cfg.Cache.Dir,
		Logger:   logger,
	})

	if err := analytics.LoadSnapshot(ctx); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load snapshot", "error", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.Source.Timeout)
	defer cancel()

	start := time.Now()
	if err := analytics.Refresh(fetchCtx); err != nil {
		logger.Warn("initial fetch failed", "error", err, "driver", cfg.Source.Driver)
	} else {
		logger.Info("transactions loaded", "driver", cfg.Source.Driver, "duration", time.Since(start))
	}
	return analytics, nil
}

func newHandler(srv http.Handler, cfg *config.Config, logger *slog.Logger) http.Handler {
	rateLimiter := middleware.NewRateLimiter(cfg.Security)

	middlewareChain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(logger),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
		middleware.RateLimit(rateLimiter, logger),
	)
	return middlewareChain(srv)
}

func main() {
	if err := run(); err != nil {
		slog.Error("spend dashboard stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)
	logger.Info("starting spend dashboard",
		"version", version,
		"driver", cfg.Source.Driver,
		"addr", cfg.Address(),
		"cache_ttl", cfg.Cache.TTL,
	)

	analytics, err := newAnalytics(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open transaction source: %w", err)
	}

	srv := server.NewServer(analytics, logger, &server.TemplateHandlers{Dashboard: handleDashboard})
	gracefulServer := server.NewGracefulServer(&http.Server{
		Addr:         cfg.Address(),
		Handler:      newHandler(srv, cfg, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}, logger, cfg)

	gracefulServer.RegisterShutdownHook("transaction source", func(ctx context.Context) error {
		return analytics.Close()
	})

	if err := gracefulServer.ListenAndServe(); err != nil {
		return err
	}
	logger.Info("spend dashboard stopped")
	return nil
}
