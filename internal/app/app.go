// Package app provides the top-level application lifecycle for maxxbot. It
// wires together all dependencies (chain clients, stores, caches, blob
// storage, the swap executor, and notifications) and starts the goroutines the
// configured operating mode needs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maxx-ecosystem/maxxbot/internal/config"
)

// Version is stamped by the build and reported by the health endpoint.
var Version = "dev"

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

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled or the mode completes.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	mode := strings.ToLower(a.cfg.Mode)

	// encrypt-key touches only the local filesystem; no wiring needed.
	if mode == "encrypt-key" {
		return a.EncryptKeyMode(ctx)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case "reactive":
		return a.ReactiveMode(ctx, deps)
	case "swing":
		return a.SwingMode(ctx, deps)
	case "burst":
		return a.BurstMode(ctx, deps)
	case "monitor":
		return a.MonitorMode(ctx, deps)
	case "status":
		return a.StatusMode(ctx, deps)
	case "sell-all":
		return a.SellAllMode(ctx, deps)
	case "cancel-pending":
		return a.CancelPendingMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
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
