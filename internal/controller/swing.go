package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// SwingConfig parameterizes the reserve-swing mode: hold the token at a
// target share of total portfolio value, trading back toward it whenever the
// share drifts outside the band. Each tick trades only a slice of the
// imbalance so a volatile market is rebalanced gradually.
type SwingConfig struct {
	TargetTokenShare decimal.Decimal
	BandPct          decimal.Decimal
	SlicePct         decimal.Decimal
}

// Swing is the reserve-swing rebalancer. It shares the reactive controller's
// collaborators and persistence but replaces its decision rule.
type Swing struct {
	ctrl *Controller
	cfg  SwingConfig
}

// NewSwing wraps a controller with the swing decision rule.
func NewSwing(ctrl *Controller, cfg SwingConfig) *Swing {
	return &Swing{ctrl: ctrl, cfg: cfg}
}

// Run executes swing ticks at the controller's tick interval.
func (s *Swing) Run(ctx context.Context) error {
	c := s.ctrl
	if err := c.ensureLoaded(); err != nil {
		return err
	}

	c.logger.Info("swing rebalancer starting",
		slog.String("target_share", s.cfg.TargetTokenShare.String()),
		slog.String("band", s.cfg.BandPct.String()))

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			c.logger.Info("swing rebalancer stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick evaluates the portfolio's token share and trades a slice of the
// imbalance when it sits outside the band.
func (s *Swing) Tick(ctx context.Context) error {
	c := s.ctrl
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

	tokenAmt := bal.TokenAmount(c.cfg.TokenDecimals)
	tokenUSD := tokenAmt.Mul(snap.TokenUSD)
	nativeUSD := bal.NativeAmount().Mul(snap.NativeUSD)
	totalUSD := tokenUSD.Add(nativeUSD)
	if !totalUSD.IsPositive() {
		c.logger.Warn("portfolio value is zero, skipping tick")
		return nil
	}

	share := tokenUSD.DivRound(totalUSD, 8)
	lower := s.cfg.TargetTokenShare.Sub(s.cfg.BandPct)
	upper := s.cfg.TargetTokenShare.Add(s.cfg.BandPct)

	switch {
	case share.GreaterThan(upper):
		return s.sellSlice(ctx, snap, bal, share, totalUSD)
	case share.LessThan(lower):
		return s.buySlice(ctx, snap, bal, share, totalUSD)
	default:
		c.logger.Debug("within band",
			slog.String("share", share.String()),
			slog.String("band", fmt.Sprintf("[%s, %s]", lower, upper)))
		return nil
	}
}

// sellSlice sells a slice of the token excess over the target share.
func (s *Swing) sellSlice(ctx context.Context, snap domain.PriceSnapshot, bal domain.BalanceSnapshot, share, totalUSD decimal.Decimal) error {
	c := s.ctrl

	_, gasUSD, ok := c.gasWithinCap(ctx, snap)
	if !ok {
		return nil
	}

	excessUSD := share.Sub(s.cfg.TargetTokenShare).Mul(totalUSD).Mul(s.cfg.SlicePct)
	tokenAmount := excessUSD.DivRound(snap.TokenUSD, c.cfg.TokenDecimals)
	raw := tokenAmount.Shift(c.cfg.TokenDecimals).BigInt()
	if raw.Sign() <= 0 || raw.Cmp(bal.TokenRaw) > 0 {
		return nil
	}

	c.logger.Info("rebalancing: selling token excess",
		slog.String("share", share.String()),
		slog.String("sell_usd", excessUSD.String()))

	result, err := c.deps.Swapper.Execute(ctx, domain.TokenToNative, raw, c.cfg.SlippageBps)
	if err != nil {
		c.handleSwapFailure(err, domain.TokenToNative, snap)
		return nil
	}
	c.deps.Balances.Invalidate()

	st := c.state
	st.LastAction = domain.ActionSold
	st.LastActionAt = c.now().UTC()
	if err := c.persist(st); err != nil {
		return err
	}

	c.recordAction(ctx, domain.ActionRecord{
		Kind:         domain.ActionKindSell,
		PriceUSD:     snap.TokenUSD,
		AmountToken:  tokenAmount,
		AmountNative: weiToNative(result.AmountOut),
		GasCostUSD:   gasUSD,
		TxHash:       result.Hash,
		Reason:       fmt.Sprintf("token share %s above band", share),
	})
	return nil
}

// buySlice buys a slice of the token shortfall under the target share.
func (s *Swing) buySlice(ctx context.Context, snap domain.PriceSnapshot, bal domain.BalanceSnapshot, share, totalUSD decimal.Decimal) error {
	c := s.ctrl

	gasWei, gasUSD, ok := c.gasWithinCap(ctx, snap)
	if !ok {
		return nil
	}

	shortfallUSD := s.cfg.TargetTokenShare.Sub(share).Mul(totalUSD).Mul(s.cfg.SlicePct)
	if !snap.NativeUSD.IsPositive() {
		return nil
	}
	wantWei := nativeToWei(shortfallUSD.DivRound(snap.NativeUSD, 18))

	spendable := c.buyAmountWei(bal, gasWei, snap)
	if spendable.Sign() <= 0 {
		c.logger.Info("rebalance buy skipped, nothing spendable above reserve")
		return nil
	}
	if wantWei.Cmp(spendable) > 0 {
		wantWei = spendable
	}
	if wantWei.Sign() <= 0 {
		return nil
	}

	c.logger.Info("rebalancing: buying token shortfall",
		slog.String("share", share.String()),
		slog.String("buy_usd", shortfallUSD.String()))

	result, err := c.deps.Swapper.Execute(ctx, domain.NativeToToken, wantWei, c.cfg.SlippageBps)
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
		EntryUSD:     st.EntryPriceUSD,
		AmountToken:  rawToAmount(result.AmountOut, c.cfg.TokenDecimals),
		AmountNative: weiToNative(wantWei),
		GasCostUSD:   gasUSD,
		TxHash:       result.Hash,
		Reason:       fmt.Sprintf("token share %s below band", share),
	})
	return nil
}
