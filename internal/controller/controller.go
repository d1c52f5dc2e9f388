// Package controller implements the reactive trade-threshold state machine:
// a strictly sequential tick loop that watches the tracked token's price and
// moves between HOLDING and FLAT through full sells and threshold re-buys,
// persisting its state after every state-changing action.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// Bus channels for dashboard consumers.
const (
	TickChannel   = "maxxbot:ticks"
	ActionChannel = "maxxbot:actions"
)

// Notifier is the slice of the notification system the controller needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the controller's thresholds and sizing parameters. Percentages
// are fractions: SellGainPct 0.05 sells at +5% over entry.
type Config struct {
	Mode          string
	TokenSymbol   string
	TokenDecimals int32

	SellGainPct   decimal.Decimal
	RebuyDropPct  decimal.Decimal
	GasCapUSD     decimal.Decimal
	ReserveNative decimal.Decimal
	// BudgetUSD caps buy size in USD; zero selects spend-all sizing.
	BudgetUSD  decimal.Decimal
	DustTokens decimal.Decimal

	SlippageBps   int64
	SwapGasUnits  uint64
	TickInterval  time.Duration
	BalanceMaxAge time.Duration
}

// Deps are the controller's collaborators. Actions, Bus, Cache, and Notifier
// are optional; nil disables that side channel.
type Deps struct {
	Prices   domain.PriceSource
	Balances domain.BalanceSource
	Gas      domain.GasEstimator
	Swapper  domain.SwapExecutor
	States   domain.StateStore
	Actions  domain.ActionStore
	Bus      domain.SignalBus
	Cache    domain.PriceCache
	Notifier Notifier
}

// Controller owns the tick loop. Ticks are strictly sequential: tick N+1
// never starts before tick N's state mutation has been persisted. State() and
// Status() may be called from other goroutines while the loop runs.
type Controller struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	// mu guards state and loaded against concurrent Status reads. The tick
	// goroutine is the only writer.
	mu     sync.RWMutex
	state  domain.ControllerState
	loaded bool
}

// New creates a controller. State is loaded lazily on the first tick.
func New(cfg Config, deps Deps, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "controller"), slog.String("mode", cfg.Mode)),
		now:    time.Now,
	}
}

// State returns the current in-memory controller state.
func (c *Controller) State() domain.ControllerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run executes ticks at the configured interval until the context is
// cancelled. Transient failures skip the tick; persistence failures are fatal
// because continuing would risk acting on unsaved truth.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.ensureLoaded(); err != nil {
		return err
	}

	c.logger.Info("controller starting",
		slog.String("tick_interval", c.cfg.TickInterval.String()),
		slog.Bool("holding", c.state.Holding),
		slog.String("anchor_usd", c.state.AnchorPriceUSD.String()))

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := c.Tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopping", slog.String("reason", ctx.Err().Error()))
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one decide-act-observe cycle. It returns an error only for fatal
// conditions (state persistence failure); every expected failure mode is a
// logged no-op retried on the next tick.
func (c *Controller) Tick(ctx context.Context) error {
	if err := c.ensureLoaded(); err != nil {
		return err
	}

	snap, err := c.deps.Prices.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("price unavailable, skipping tick", slog.String("error", err.Error()))
		return nil
	}
	c.publishTick(ctx, snap)

	bal, err := c.deps.Balances.Balances(ctx, c.cfg.BalanceMaxAge)
	if err != nil {
		c.logger.Warn("balances unavailable, skipping tick", slog.String("error", err.Error()))
		return nil
	}

	if c.state.Holding {
		return c.tickHolding(ctx, snap, bal)
	}
	return c.tickFlat(ctx, snap, bal)
}

// tickHolding evaluates the sell side: dust forces flat without a swap,
// otherwise a price at or above entry*(1+gain) triggers a full sell.
func (c *Controller) tickHolding(ctx context.Context, snap domain.PriceSnapshot, bal domain.BalanceSnapshot) error {
	tokenAmt := bal.TokenAmount(c.cfg.TokenDecimals)

	if tokenAmt.LessThan(c.cfg.DustTokens) {
		// Position too small to sell economically. Treat as already sold;
		// LastAction stays untouched because no trade happened.
		c.logger.Info("token balance below dust threshold, forcing flat",
			slog.String("balance", tokenAmt.String()),
			slog.String("dust", c.cfg.DustTokens.String()))

		st := c.state
		st.Holding = false
		st.EntryPriceUSD = decimal.Zero
		if err := c.persist(st); err != nil {
			return err
		}
		c.recordAction(ctx, domain.ActionRecord{
			Kind:        domain.ActionKindDustFlat,
			PriceUSD:    snap.TokenUSD,
			AnchorUSD:   st.AnchorPriceUSD,
			AmountToken: tokenAmt,
			Reason:      "token balance below dust threshold",
		})
		return nil
	}

	target := c.state.EntryPriceUSD.Mul(decimal.NewFromInt(1).Add(c.cfg.SellGainPct))
	if snap.TokenUSD.GreaterThanOrEqual(target) {
		return c.trySell(ctx, snap, bal, target)
	}

	c.logger.Debug("holding",
		slog.String("price_usd", snap.TokenUSD.String()),
		slog.String("sell_at", target.String()))
	return nil
}

// tickFlat evaluates the buy side: a price above the anchor ratchets the
// anchor, a price at or below anchor*(1-drop) triggers a buy.
func (c *Controller) tickFlat(ctx context.Context, snap domain.PriceSnapshot, bal domain.BalanceSnapshot) error {
	if c.state.AnchorPriceUSD.IsZero() || snap.TokenUSD.GreaterThan(c.state.AnchorPriceUSD) {
		st := c.state
		st.AnchorPriceUSD = snap.TokenUSD
		c.logger.Info("anchor ratcheted",
			slog.String("anchor_usd", st.AnchorPriceUSD.String()))
		return c.persist(st)
	}

	target := c.state.AnchorPriceUSD.Mul(decimal.NewFromInt(1).Sub(c.cfg.RebuyDropPct))
	if snap.TokenUSD.LessThanOrEqual(target) {
		return c.tryBuy(ctx, snap, bal, target)
	}

	c.logger.Debug("flat",
		slog.String("price_usd", snap.TokenUSD.String()),
		slog.String("buy_at", target.String()))
	return nil
}

// trySell sells the full token balance. The gas-cap check runs first; a swap
// failure of any kind leaves state untouched.
func (c *Controller) trySell(ctx context.Context, snap domain.PriceSnapshot, bal domain.BalanceSnapshot, target decimal.Decimal) error {
	_, gasUSD, ok := c.gasWithinCap(ctx, snap)
	if !ok {
		return nil
	}

	c.logger.Info("sell threshold crossed",
		slog.String("price_usd", snap.TokenUSD.String()),
		slog.String("entry_usd", c.state.EntryPriceUSD.String()),
		slog.String("target_usd", target.String()),
		slog.String("gas_usd", gasUSD.String()))

	result, err := c.deps.Swapper.Execute(ctx, domain.TokenToNative, bal.TokenRaw, c.cfg.SlippageBps)
	if err != nil {
		c.handleSwapFailure(err, domain.TokenToNative, snap)
		return nil
	}
	c.deps.Balances.Invalidate()

	st := c.state
	st.Holding = false
	st.EntryPriceUSD = decimal.Zero
	st.AnchorPriceUSD = snap.TokenUSD
	st.LastAction = domain.ActionSold
	st.LastActionAt = c.now().UTC()
	if err := c.persist(st); err != nil {
		return err
	}

	tokenAmt := bal.TokenAmount(c.cfg.TokenDecimals)
	c.recordAction(ctx, domain.ActionRecord{
		Kind:         domain.ActionKindSell,
		PriceUSD:     snap.TokenUSD,
		AnchorUSD:    st.AnchorPriceUSD,
		EntryUSD:     decimal.Zero,
		AmountToken:  tokenAmt,
		AmountNative: weiToNative(result.AmountOut),
		GasCostUSD:   gasUSD,
		TxHash:       result.Hash,
		Reason:       fmt.Sprintf("price %s >= target %s", snap.TokenUSD, target),
	})
	c.notify(ctx, "sell", fmt.Sprintf("Sold %s %s at $%s (tx %s)",
		tokenAmt, c.cfg.TokenSymbol, snap.TokenUSD, result.Hash))
	return nil
}

// tryBuy sizes and executes a buy. Spend-all sizing spends everything above
// the native reserve and the estimated gas; a non-positive amount is a no-op.
func (c *Controller) tryBuy(ctx context.Context, snap domain.PriceSnapshot, bal domain.BalanceSnapshot, target decimal.Decimal) error {
	gasWei, gasUSD, ok := c.gasWithinCap(ctx, snap)
	if !ok {
		return nil
	}

	amountWei := c.buyAmountWei(bal, gasWei, snap)
	if amountWei.Sign() <= 0 {
		c.logger.Info("buy triggered but nothing spendable above reserve and gas",
			slog.String("native_wei", bal.NativeWei.String()))
		return nil
	}

	c.logger.Info("buy threshold crossed",
		slog.String("price_usd", snap.TokenUSD.String()),
		slog.String("anchor_usd", c.state.AnchorPriceUSD.String()),
		slog.String("target_usd", target.String()),
		slog.String("spend_wei", amountWei.String()),
		slog.String("gas_usd", gasUSD.String()))

	result, err := c.deps.Swapper.Execute(ctx, domain.NativeToToken, amountWei, c.cfg.SlippageBps)
	if err != nil {
		c.handleSwapFailure(err, domain.NativeToToken, snap)
		return nil
	}
	c.deps.Balances.Invalidate()

	st := c.state
	st.Holding = true
	st.EntryPriceUSD = snap.TokenUSD
	st.LastAction = domain.ActionBought
	st.LastActionAt = c.now().UTC()
	if err := c.persist(st); err != nil {
		return err
	}

	c.recordAction(ctx, domain.ActionRecord{
		Kind:         domain.ActionKindBuy,
		PriceUSD:     snap.TokenUSD,
		AnchorUSD:    st.AnchorPriceUSD,
		EntryUSD:     st.EntryPriceUSD,
		AmountToken:  rawToAmount(result.AmountOut, c.cfg.TokenDecimals),
		AmountNative: weiToNative(amountWei),
		GasCostUSD:   gasUSD,
		TxHash:       result.Hash,
		Reason:       fmt.Sprintf("price %s <= target %s", snap.TokenUSD, target),
	})
	c.notify(ctx, "buy", fmt.Sprintf("Bought %s at $%s spending %s native (tx %s)",
		c.cfg.TokenSymbol, snap.TokenUSD, weiToNative(amountWei), result.Hash))
	return nil
}

// buyAmountWei computes the native amount to spend: everything above the
// reserve and the gas estimate, optionally capped by the USD budget.
func (c *Controller) buyAmountWei(bal domain.BalanceSnapshot, gasWei *big.Int, snap domain.PriceSnapshot) *big.Int {
	spendable := new(big.Int).Set(bal.NativeWei)
	spendable.Sub(spendable, nativeToWei(c.cfg.ReserveNative))
	spendable.Sub(spendable, gasWei)
	if spendable.Sign() <= 0 {
		return spendable
	}

	if c.cfg.BudgetUSD.IsPositive() && snap.NativeUSD.IsPositive() {
		budgetWei := nativeToWei(c.cfg.BudgetUSD.DivRound(snap.NativeUSD, 18))
		if budgetWei.Cmp(spendable) < 0 {
			return budgetWei
		}
	}
	return spendable
}

// gasWithinCap estimates the action's gas cost and checks it against the USD
// cap. Estimation failure or an over-cap cost skips the action.
func (c *Controller) gasWithinCap(ctx context.Context, snap domain.PriceSnapshot) (*big.Int, decimal.Decimal, bool) {
	gasWei, err := c.deps.Gas.EstimateNative(ctx, c.cfg.SwapGasUnits)
	if err != nil {
		c.logger.Warn("gas estimate unavailable, skipping action", slog.String("error", err.Error()))
		return nil, decimal.Zero, false
	}

	gasUSD := weiToNative(gasWei).Mul(snap.NativeUSD)
	if gasUSD.GreaterThan(c.cfg.GasCapUSD) {
		c.logger.Info("gas cost over cap, skipping action",
			slog.String("gas_usd", gasUSD.String()),
			slog.String("cap_usd", c.cfg.GasCapUSD.String()))
		return nil, decimal.Zero, false
	}
	return gasWei, gasUSD, true
}

// handleSwapFailure logs an unsuccessful swap. State is never mutated here:
// pending outcomes resolve through the next tick's balance read, and reverted
// or routeless swaps are plain no-ops.
func (c *Controller) handleSwapFailure(err error, dir domain.Direction, snap domain.PriceSnapshot) {
	switch {
	case errors.Is(err, domain.ErrPending):
		// The transaction may still land. Drop the balance cache so the next
		// tick observes on-chain truth instead of the pre-trade snapshot.
		c.deps.Balances.Invalidate()
		c.logger.Warn("swap pending, deferring to next tick",
			slog.String("direction", string(dir)), slog.String("error", err.Error()))
	case errors.Is(err, domain.ErrNoRoute):
		c.logger.Warn("no swap route",
			slog.String("direction", string(dir)),
			slog.String("price_usd", snap.TokenUSD.String()))
	case errors.Is(err, domain.ErrReverted):
		c.logger.Warn("swap reverted",
			slog.String("direction", string(dir)), slog.String("error", err.Error()))
		c.deps.Balances.Invalidate()
	default:
		c.logger.Warn("swap failed",
			slog.String("direction", string(dir)), slog.String("error", err.Error()))
	}
	c.notify(context.Background(), "error", fmt.Sprintf("Swap %s failed: %v", dir, err))
}

func (c *Controller) ensureLoaded() error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	st, err := c.deps.States.Load()
	if err != nil {
		return fmt.Errorf("controller: load state: %w", err)
	}
	c.mu.Lock()
	c.state = st
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// persist saves the new state if it differs from the current one, then
// adopts it. Unchanged states are not rewritten.
func (c *Controller) persist(st domain.ControllerState) error {
	if st.Equal(c.state) {
		return nil
	}
	if err := c.deps.States.Save(st); err != nil {
		return fmt.Errorf("controller: persist state: %w", err)
	}
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	return nil
}

// recordAction stamps and stores an action record, then publishes it. Log
// side channels never fail the tick.
func (c *Controller) recordAction(ctx context.Context, rec domain.ActionRecord) {
	rec.ID = uuid.NewString()
	rec.Mode = c.cfg.Mode
	rec.CreatedAt = c.now().UTC()

	if c.deps.Actions != nil {
		if err := c.deps.Actions.Insert(ctx, rec); err != nil {
			c.logger.Error("action log insert failed", slog.String("error", err.Error()))
		}
	}
	if c.deps.Bus != nil {
		payload, err := json.Marshal(rec)
		if err == nil {
			if err := c.deps.Bus.Publish(ctx, ActionChannel, payload); err != nil {
				c.logger.Warn("action publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

// tickEvent is the JSON frame published to the tick channel.
type tickEvent struct {
	TokenUSD   string    `json:"token_usd"`
	NativeUSD  string    `json:"native_usd"`
	Holding    bool      `json:"holding"`
	AnchorUSD  string    `json:"anchor_usd"`
	EntryUSD   string    `json:"entry_usd"`
	ObservedAt time.Time `json:"observed_at"`
}

func (c *Controller) publishTick(ctx context.Context, snap domain.PriceSnapshot) {
	if c.deps.Cache != nil {
		usd, _ := snap.TokenUSD.Float64()
		if err := c.deps.Cache.SetPrice(ctx, c.cfg.TokenSymbol, usd, snap.ObservedAt); err != nil {
			c.logger.Warn("price cache write failed", slog.String("error", err.Error()))
		}
	}
	if c.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(tickEvent{
		TokenUSD:   snap.TokenUSD.String(),
		NativeUSD:  snap.NativeUSD.String(),
		Holding:    c.state.Holding,
		AnchorUSD:  c.state.AnchorPriceUSD.String(),
		EntryUSD:   c.state.EntryPriceUSD.String(),
		ObservedAt: snap.ObservedAt,
	})
	if err != nil {
		return
	}
	if err := c.deps.Bus.Publish(ctx, TickChannel, payload); err != nil {
		c.logger.Warn("tick publish failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) notify(ctx context.Context, event, message string) {
	if c.deps.Notifier == nil {
		return
	}
	if err := c.deps.Notifier.Notify(ctx, event, "maxxbot "+event, message); err != nil {
		c.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}

func weiToNative(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

func nativeToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).BigInt()
}

func rawToAmount(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}
