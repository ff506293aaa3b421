package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"spend-dashboard/internal/config"
)

const hookTimeout = 10 * time.Second

type shutdownHook struct {
	name string
	fn   func(ctx context.Context) error
}

// GracefulServer runs an http.Server until the context ends, then drains
// in-flight requests before closing the resources behind them.
type GracefulServer struct {
	server *http.Server
	logger *slog.Logger
	config *config.Config

	mu    sync.Mutex
	hooks []shutdownHook
}

func NewGracefulServer(server *http.Server, logger *slog.Logger, config *config.Config) *GracefulServer {
	return &GracefulServer{
		server: server,
		logger: logger,
		config: config,
	}
}

// RegisterShutdownHook adds fn to run after the HTTP server has drained.
// Hooks run in reverse registration order, so resources opened first close
// last.
func (gs *GracefulServer) RegisterShutdownHook(name string, fn func(ctx context.Context) error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, shutdownHook{name: name, fn: fn})
}

// ListenAndServe serves until SIGINT or SIGTERM.
func (gs *GracefulServer) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", gs.server.Addr, err)
	}
	return gs.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done or the server fails, then shuts down.
func (gs *GracefulServer) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		gs.logger.Info("serving",
			"addr", ln.Addr().String(),
			"read_timeout", gs.server.ReadTimeout,
			"write_timeout", gs.server.WriteTimeout,
		)
		if err := gs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		gs.logger.Info("shutting down", "cause", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gs.config.Server.ShutdownTimeout)
		defer cancel()
		return gs.shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (gs *GracefulServer) shutdown(ctx context.Context) error {
	start := time.Now()
	var errs []error

	if err := gs.server.Shutdown(ctx); err != nil {
		gs.logger.Error("HTTP server did not drain", "error", err)
		errs = append(errs, fmt.Errorf("drain HTTP server: %w", err))
	}

	gs.mu.Lock()
	hooks := slices.Clone(gs.hooks)
	gs.mu.Unlock()

	for i, hook := range slices.Backward(hooks) {
		if err := ctx.Err(); err != nil {
			gs.logger.Warn("shutdown deadline reached, skipping remaining hooks", "remaining", i+1)
			errs = append(errs, err)
			break
		}

		hookCtx, cancel := context.WithTimeout(ctx, hookTimeout)
		err := hook.fn(hookCtx)
		cancel()
		if err != nil {
			gs.logger.Error("shutdown hook failed", "hook", hook.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))
			continue
		}
		gs.logger.Debug("shutdown hook done", "hook", hook.name)
	}

	err := errors.Join(errs...)
	if err == nil {
		gs.logger.Info("shutdown complete", "duration", time.Since(start))
	}
	return err
}
