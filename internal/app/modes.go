package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/maxx-ecosystem/maxxbot/internal/controller"
	"github.com/maxx-ecosystem/maxxbot/internal/domain"
	"github.com/maxx-ecosystem/maxxbot/internal/keys"
	"github.com/maxx-ecosystem/maxxbot/internal/server"
	"github.com/maxx-ecosystem/maxxbot/internal/server/handler"
	"github.com/maxx-ecosystem/maxxbot/internal/server/ws"
)

// walletLockTTL bounds how long a crashed instance can keep a wallet locked.
// Live instances finish well within it because the lock is released on
// shutdown.
const walletLockTTL = time.Hour

// ReactiveMode runs the threshold controller loop plus the dashboard server
// and archiver when configured.
func (a *App) ReactiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reactive mode")

	unlock, err := a.acquireWalletLock(ctx, deps)
	if err != nil {
		return fmt.Errorf("reactive mode: %w", err)
	}
	defer unlock()

	ctrl := a.buildController(deps, a.controllerConfig())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(ctx)
	})
	a.startBackground(ctx, g, deps, ctrl)
	return g.Wait()
}

// SwingMode runs the reserve-swing rebalancer.
func (a *App) SwingMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting swing mode")

	unlock, err := a.acquireWalletLock(ctx, deps)
	if err != nil {
		return fmt.Errorf("swing mode: %w", err)
	}
	defer unlock()

	ctrl := a.buildController(deps, a.controllerConfig())
	sw := controller.NewSwing(ctrl, controller.SwingConfig{
		TargetTokenShare: decimal.NewFromFloat(a.cfg.Swing.TargetTokenShare),
		BandPct:          decimal.NewFromFloat(a.cfg.Swing.BandPct),
		SlicePct:         decimal.NewFromFloat(a.cfg.Swing.SlicePct),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sw.Run(ctx)
	})
	a.startBackground(ctx, g, deps, ctrl)
	return g.Wait()
}

// BurstMode runs the threshold controller with burst thresholds until the
// configured number of sell round trips completes, then shuts everything
// down.
func (a *App) BurstMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting burst mode",
		slog.Int("max_cycles", a.cfg.Burst.MaxCycles))

	unlock, err := a.acquireWalletLock(ctx, deps)
	if err != nil {
		return fmt.Errorf("burst mode: %w", err)
	}
	defer unlock()

	cfg := a.controllerConfig()
	cfg.SellGainPct = decimal.NewFromFloat(a.cfg.Burst.SellGainPct)
	cfg.RebuyDropPct = decimal.NewFromFloat(a.cfg.Burst.RebuyDropPct)
	ctrl := a.buildController(deps, cfg)
	burst := controller.NewBurst(ctrl, a.cfg.Burst.MaxCycles)

	// Completing the cycle budget stops the server and archiver too.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return burst.Run(runCtx)
	})
	a.startBackground(runCtx, g, deps, ctrl)
	return g.Wait()
}

// MonitorMode watches the price feed and serves the dashboard without ever
// trading. Balances and status are available only when wallet credentials are
// configured.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	var status handler.StatusProvider
	if deps.Balances != nil {
		status = a.buildController(deps, a.controllerConfig())
	}

	g.Go(func() error {
		return a.watchPrices(ctx, deps)
	})
	a.startBackground(ctx, g, deps, status)
	return g.Wait()
}

// StatusMode prints a one-shot JSON status report to stdout.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	if deps.Balances == nil {
		return errors.New("status mode: wallet credentials required to read balances")
	}

	ctrl := a.buildController(deps, a.controllerConfig())
	st, err := ctrl.Status(ctx)
	if err != nil {
		return fmt.Errorf("status mode: %w", err)
	}

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("status mode: encode: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// SellAllMode liquidates the full token position and exits.
func (a *App) SellAllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sell-all mode")

	unlock, err := a.acquireWalletLock(ctx, deps)
	if err != nil {
		return fmt.Errorf("sell-all mode: %w", err)
	}
	defer unlock()

	ctrl := a.buildController(deps, a.controllerConfig())
	if err := ctrl.SellAll(ctx); err != nil {
		return fmt.Errorf("sell-all mode: %w", err)
	}
	return nil
}

// CancelPendingMode replaces a stuck pending transaction with a zero-value
// self-transfer at doubled fees.
func (a *App) CancelPendingMode(ctx context.Context, deps *Dependencies) error {
	if deps.Executor == nil {
		return errors.New("cancel-pending mode: wallet credentials required")
	}

	unlock, err := a.acquireWalletLock(ctx, deps)
	if err != nil {
		return fmt.Errorf("cancel-pending mode: %w", err)
	}
	defer unlock()

	result, err := deps.Executor.CancelPending(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.logger.InfoContext(ctx, "no pending transaction to cancel")
			return nil
		}
		return fmt.Errorf("cancel-pending mode: %w", err)
	}

	a.logger.InfoContext(ctx, "pending transaction replaced",
		slog.String("tx", result.Hash))

	if deps.Actions != nil {
		rec := domain.ActionRecord{
			ID:        uuid.NewString(),
			Kind:      domain.ActionKindCancel,
			Mode:      a.cfg.Mode,
			TxHash:    result.Hash,
			Reason:    "stuck transaction replaced by zero-value self-transfer",
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Actions.Insert(ctx, rec); err != nil {
			a.logger.WarnContext(ctx, "cancel action insert failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// EncryptKeyMode seals wallet.private_key with wallet.key_password and writes
// the encrypted blob to wallet.encrypted_key_path.
func (a *App) EncryptKeyMode(ctx context.Context) error {
	w := a.cfg.Wallet
	if w.PrivateKey == "" {
		return errors.New("encrypt-key mode: wallet.private_key must hold the key to encrypt")
	}
	if w.EncryptedKeyPath == "" {
		return errors.New("encrypt-key mode: wallet.encrypted_key_path must name the output file")
	}
	if w.KeyPassword == "" {
		return errors.New("encrypt-key mode: wallet.key_password must not be empty")
	}

	blob, err := keys.Encrypt(w.PrivateKey, w.KeyPassword)
	if err != nil {
		return fmt.Errorf("encrypt-key mode: %w", err)
	}
	if err := os.WriteFile(w.EncryptedKeyPath, blob, 0o600); err != nil {
		return fmt.Errorf("encrypt-key mode: write %s: %w", w.EncryptedKeyPath, err)
	}

	a.logger.InfoContext(ctx, "encrypted key written",
		slog.String("path", w.EncryptedKeyPath))
	return nil
}

// controllerConfig converts the TOML controller section into the decimal
// parameters the controller works with.
func (a *App) controllerConfig() controller.Config {
	cc := a.cfg.Controller
	return controller.Config{
		Mode:          a.cfg.Mode,
		TokenSymbol:   a.cfg.Token.Symbol,
		TokenDecimals: int32(a.cfg.Token.Decimals),
		SellGainPct:   decimal.NewFromFloat(cc.SellGainPct),
		RebuyDropPct:  decimal.NewFromFloat(cc.RebuyDropPct),
		GasCapUSD:     decimal.NewFromFloat(cc.GasCapUSD),
		ReserveNative: decimal.NewFromFloat(cc.ReserveNative),
		BudgetUSD:     decimal.NewFromFloat(cc.BudgetUSD),
		DustTokens:    decimal.NewFromFloat(cc.DustTokens),
		SlippageBps:   cc.SlippageBps,
		SwapGasUnits:  cc.SwapGasUnits,
		TickInterval:  cc.TickInterval.Duration,
		BalanceMaxAge: cc.BalanceMaxAge.Duration,
	}
}

// buildController assembles a controller from the wired dependencies. Nil
// optionals must not be assigned through their concrete types, or the
// controller would see non-nil interfaces wrapping nil pointers.
func (a *App) buildController(deps *Dependencies, cfg controller.Config) *controller.Controller {
	d := controller.Deps{
		Prices:   deps.Prices,
		Balances: deps.Balances,
		Gas:      deps.Gas,
		States:   deps.States,
		Actions:  deps.Actions,
		Bus:      deps.Bus,
		Cache:    deps.Cache,
	}
	if deps.Executor != nil {
		d.Swapper = deps.Executor
	}
	if deps.Notifier != nil {
		d.Notifier = deps.Notifier
	}
	return controller.New(cfg, d, a.logger)
}

// acquireWalletLock takes the per-wallet Redis lock so two instances never
// trade the same wallet concurrently. It is a no-op when Redis or the wallet
// is not wired.
func (a *App) acquireWalletLock(ctx context.Context, deps *Dependencies) (func(), error) {
	if deps.Locks == nil || deps.Wallet == nil {
		return func() {}, nil
	}

	addr := strings.ToLower(deps.Wallet.Address.Hex())
	unlock, err := deps.Locks.Acquire(ctx, "wallet:"+addr, walletLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("wallet %s is locked by another instance: %w", addr, err)
		}
		return nil, err
	}
	a.logger.InfoContext(ctx, "wallet lock acquired", slog.String("wallet", addr))
	return unlock, nil
}

// startBackground adds the archiver and dashboard server goroutines to the
// errgroup when they are configured for this run.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies, status handler.StatusProvider) {
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, status)
	}
}

// startHTTPServer wires the REST handlers and websocket hub into a server and
// runs it until the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, status handler.StatusProvider) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(Version),
	}
	if status != nil {
		handlers.Status = handler.NewStatusHandler(status, a.logger)
	}
	if deps.Actions != nil {
		handlers.Actions = handler.NewActionHandler(deps.Actions, a.logger)
	}
	if deps.Cache != nil {
		handlers.Price = handler.NewPriceHandler(deps.Cache, a.cfg.Token.Symbol, a.logger)
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, ws.Config{
			Mode:        a.cfg.Mode,
			TokenSymbol: a.cfg.Token.Symbol,
		}, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// watchPrices polls the price feed and fans snapshots out to the cache and
// the dashboard bus.
func (a *App) watchPrices(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Controller.TickInterval.Duration)
	defer ticker.Stop()

	for {
		a.observePrice(ctx, deps)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *App) observePrice(ctx context.Context, deps *Dependencies) {
	snap, err := deps.Prices.Snapshot(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "monitor: price unavailable", slog.String("error", err.Error()))
		return
	}

	if deps.Cache != nil {
		usd, _ := snap.TokenUSD.Float64()
		if err := deps.Cache.SetPrice(ctx, a.cfg.Token.Symbol, usd, snap.ObservedAt); err != nil {
			a.logger.WarnContext(ctx, "monitor: price cache write failed", slog.String("error", err.Error()))
		}
	}
	if deps.Bus != nil {
		payload, err := json.Marshal(map[string]any{
			"token_usd":   snap.TokenUSD.String(),
			"native_usd":  snap.NativeUSD.String(),
			"observed_at": snap.ObservedAt,
		})
		if err == nil {
			if err := deps.Bus.Publish(ctx, controller.TickChannel, payload); err != nil {
				a.logger.WarnContext(ctx, "monitor: tick publish failed", slog.String("error", err.Error()))
			}
		}
	}
}
