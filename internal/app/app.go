// Package app provides the top-level application lifecycle: it wires the
// stores, caches, blob storage, upstream clients, and tracker components, and
// runs the scheduler and price stream until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/quarterlab/updown-tracker/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and blocks running the scheduler loop and the
// price stream until the context is cancelled. The price stream is
// self-healing, so only the scheduler's return tears the group down.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting tracker",
		slog.Int("wallets", len(a.cfg.Tracker.Wallets)),
		slog.Any("assets", a.cfg.Tracker.Assets),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Scheduler.Run(gctx)
	})
	g.Go(func() error {
		err := deps.Stream.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down tracker")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
