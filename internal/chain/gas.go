package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// FeeEstimator implements domain.GasEstimator from live EIP-1559 fee data.
// The estimate is a deliberate upper bound: double the current base fee plus
// the suggested tip, so a cap check done before submission still holds if the
// base fee climbs while the transaction sits in the mempool.
type FeeEstimator struct {
	backend Backend
	logger  *slog.Logger
}

var _ domain.GasEstimator = (*FeeEstimator)(nil)

// NewFeeEstimator creates a gas estimator backed by the RPC pool.
func NewFeeEstimator(backend Backend, logger *slog.Logger) *FeeEstimator {
	return &FeeEstimator{
		backend: backend,
		logger:  logger.With(slog.String("component", "gas")),
	}
}

// EstimateNative returns the worst-case cost in wei of a transaction spending
// gasUnits gas: gasUnits * (2*baseFee + tip). Fee data failures wrap
// ErrUnavailable so the caller skips the tick.
func (e *FeeEstimator) EstimateNative(ctx context.Context, gasUnits uint64) (*big.Int, error) {
	header, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: latest header: %v: %w", err, domain.ErrUnavailable)
	}
	if header.BaseFee == nil {
		return nil, fmt.Errorf("chain: chain has no base fee: %w", domain.ErrUnavailable)
	}

	tip, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest tip: %v: %w", err, domain.ErrUnavailable)
	}

	feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	cost := new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gasUnits))

	e.logger.Debug("gas estimate",
		slog.String("base_fee", header.BaseFee.String()),
		slog.String("tip", tip.String()),
		slog.Uint64("gas_units", gasUnits),
		slog.String("cost_wei", cost.String()))

	return cost, nil
}

// FeeCaps returns the maxFeePerGas and maxPriorityFeePerGas to use when
// signing a transaction now, using the same headroom rule as EstimateNative.
func (e *FeeEstimator) FeeCaps(ctx context.Context) (feeCap, tipCap *big.Int, err error) {
	header, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: latest header: %v: %w", err, domain.ErrUnavailable)
	}
	if header.BaseFee == nil {
		return nil, nil, fmt.Errorf("chain: chain has no base fee: %w", domain.ErrUnavailable)
	}
	tipCap, err = e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: suggest tip: %v: %w", err, domain.ErrUnavailable)
	}
	feeCap = new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, tipCap, nil
}
