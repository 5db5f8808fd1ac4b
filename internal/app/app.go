// Package app provides the top-level application lifecycle management for the
// bitunix bot. It wires together all dependencies (exchange access, stores,
// caches, blob storage, services, and notifications) and runs the trading
// loop until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bitunixbot/internal/config"
	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/execution"
	"github.com/alanyoungcy/bitunixbot/internal/ladder"
	"github.com/alanyoungcy/bitunixbot/internal/marketfilter"
	"github.com/alanyoungcy/bitunixbot/internal/recon"
	"github.com/alanyoungcy/bitunixbot/internal/server"
	"github.com/alanyoungcy/bitunixbot/internal/server/handler"
	"github.com/alanyoungcy/bitunixbot/internal/signal"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
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

// Run is the main entry point. It wires all dependencies, starts the stream
// consumer, the reconciliation sweeper, the HTTP server, and the optional
// archiver, then blocks until the context is cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Order execution and campaign management.
	exec := execution.New(deps.Exchange, a.cfg.Trading.AutoAdjustProtective, a.logger)
	machine := ladder.New(deps.StateStore, exec, deps.PnLStore, deps.LossBuffer, deps.Notifier, a.logger)
	deps.Stream.OnEvent(func(ev domain.StreamEvent) {
		machine.HandleEvent(ctx, ev)
	})

	// Signal admission.
	filter := marketfilter.New(deps.Exchange, a.logger)
	svc := signal.New(
		signal.Config{
			DefaultQty:   a.cfg.Trading.DefaultQty,
			MaxDailyLoss: a.cfg.Trading.MaxDailyLoss,
		},
		deps.StateStore, exec, filter,
		deps.Limiter, deps.LockManager, deps.LossBuffer,
		deps.PnLStore, deps.AuditStore, a.logger,
	)

	// Reconciliation.
	sweeper := recon.New(deps.Exchange, deps.StateStore, exec, a.logger)

	// HTTP surface.
	srv := server.New(
		server.Config{Port: a.cfg.Server.Port, APIKey: a.cfg.Server.ApiKey},
		server.Handlers{
			Webhook: handler.NewWebhookHandler(svc, a.logger),
			Admin:   handler.NewAdminHandler(deps.StateStore, deps.StateCache, deps.LossBuffer, sweeper, a.logger),
			Health:  handler.NewHealthHandler(deps.HealthChecks),
		},
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Stream.Run(ctx)
	})
	g.Go(func() error {
		return sweeper.Run(ctx, a.cfg.Recon.Interval.Duration)
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
