package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// Status is a point-in-time operator view of the controller's world.
type Status struct {
	State         domain.ControllerState `json:"state"`
	TokenUSD      decimal.Decimal        `json:"token_usd"`
	NativeUSD     decimal.Decimal        `json:"native_usd"`
	TokenBalance  decimal.Decimal        `json:"token_balance"`
	NativeBalance decimal.Decimal        `json:"native_balance"`
	BalancesStale bool                   `json:"balances_stale"`
	SellTargetUSD decimal.Decimal        `json:"sell_target_usd"`
	BuyTargetUSD  decimal.Decimal        `json:"buy_target_usd"`
	PositionUSD   decimal.Decimal        `json:"position_usd"`
}

// Status assembles the current state, price, and balances into one view.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	if err := c.ensureLoaded(); err != nil {
		return Status{}, err
	}

	snap, err := c.deps.Prices.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	bal, err := c.deps.Balances.Balances(ctx, c.cfg.BalanceMaxAge)
	if err != nil {
		return Status{}, err
	}

	st := c.State()
	tokenAmt := bal.TokenAmount(c.cfg.TokenDecimals)
	one := decimal.NewFromInt(1)

	return Status{
		State:         st,
		TokenUSD:      snap.TokenUSD,
		NativeUSD:     snap.NativeUSD,
		TokenBalance:  tokenAmt,
		NativeBalance: bal.NativeAmount(),
		BalancesStale: bal.Stale,
		SellTargetUSD: st.EntryPriceUSD.Mul(one.Add(c.cfg.SellGainPct)),
		BuyTargetUSD:  st.AnchorPriceUSD.Mul(one.Sub(c.cfg.RebuyDropPct)),
		PositionUSD:   tokenAmt.Mul(snap.TokenUSD),
	}, nil
}

// SellAll unconditionally liquidates the full token position. It is an
// operator command, so the gas cap does not apply; dust-sized positions are
// forced flat without a swap.
func (c *Controller) SellAll(ctx context.Context) error {
	if err := c.ensureLoaded(); err != nil {
		return err
	}

	snap, err := c.deps.Prices.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("controller: sell-all: %w", err)
	}

	c.deps.Balances.Invalidate()
	bal, err := c.deps.Balances.Balances(ctx, c.cfg.BalanceMaxAge)
	if err != nil {
		return fmt.Errorf("controller: sell-all: %w", err)
	}

	tokenAmt := bal.TokenAmount(c.cfg.TokenDecimals)
	if tokenAmt.LessThan(c.cfg.DustTokens) {
		c.logger.Info("nothing to sell", slog.String("balance", tokenAmt.String()))
		st := c.state
		st.Holding = false
		st.EntryPriceUSD = decimal.Zero
		return c.persist(st)
	}

	result, err := c.deps.Swapper.Execute(ctx, domain.TokenToNative, bal.TokenRaw, c.cfg.SlippageBps)
	if err != nil {
		c.handleSwapFailure(err, domain.TokenToNative, snap)
		return fmt.Errorf("controller: sell-all: %w", err)
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

	c.recordAction(ctx, domain.ActionRecord{
		Kind:         domain.ActionKindSell,
		PriceUSD:     snap.TokenUSD,
		AnchorUSD:    st.AnchorPriceUSD,
		AmountToken:  tokenAmt,
		AmountNative: weiToNative(result.AmountOut),
		TxHash:       result.Hash,
		Reason:       "operator sell-all",
	})
	c.notify(ctx, "sell", fmt.Sprintf("Sell-all: %s %s at $%s (tx %s)",
		tokenAmt, c.cfg.TokenSymbol, snap.TokenUSD, result.Hash))

	c.logger.Info("sell-all complete",
		slog.String("amount", tokenAmt.String()),
		slog.String("tx", result.Hash))
	return nil
}
