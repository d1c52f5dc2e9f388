package domain

import (
	"context"
	"io"
	"math/big"
	"time"
)

// PriceSource fetches the current market price for the tracked token.
// Implementations return an error wrapping ErrUnavailable on network failure,
// malformed responses, or an unusable (zero/negative) native denominator;
// they never return a zero-valued snapshot in place of an error.
type PriceSource interface {
	Snapshot(ctx context.Context) (PriceSnapshot, error)
}

// BalanceSource reads the wallet's on-chain balances, serving a cached
// snapshot when it is younger than maxAge. On refresh failure the last known
// snapshot is returned with Stale set; if none exists the error wraps
// ErrUnavailable.
type BalanceSource interface {
	Balances(ctx context.Context, maxAge time.Duration) (BalanceSnapshot, error)

	// Invalidate drops the cached snapshot. Called after any state-changing
	// on-chain action so the next read reflects post-trade truth.
	Invalidate()
}

// GasEstimator computes a conservative upper-bound transaction cost in wei
// for a transaction consuming gasUnits gas.
type GasEstimator interface {
	EstimateNative(ctx context.Context, gasUnits uint64) (*big.Int, error)
}

// SwapExecutor routes and submits a swap through the aggregator. amountIn is
// in the source asset's smallest unit. Failure variants are reported as
// errors wrapping ErrNoRoute, ErrReverted, or ErrPending; an insufficient
// allowance is remediated internally with a one-time approval followed by a
// single retry.
type SwapExecutor interface {
	Execute(ctx context.Context, dir Direction, amountIn *big.Int, slippageBps int64) (TxResult, error)
}

// StateStore persists ControllerState between runs. Load returns the default
// state (and no error) when no prior state exists or the stored document is
// malformed; unrecoverable I/O problems (e.g. permissions) are returned as
// errors and treated as fatal by the caller.
type StateStore interface {
	Load() (ControllerState, error)
	Save(state ControllerState) error
}

// ActionStore is the durable action log.
type ActionStore interface {
	Insert(ctx context.Context, rec ActionRecord) error
	ListRecent(ctx context.Context, limit int) ([]ActionRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]ActionRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SignalBus publishes tick and action events for the dashboard and subscribes
// consumers (the WebSocket hub) to them.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// PriceCache stores the most recent observed price for dashboard reads.
type PriceCache interface {
	SetPrice(ctx context.Context, token string, usd float64, ts time.Time) error
	GetPrice(ctx context.Context, token string) (float64, time.Time, error)
}

// LockManager guards a wallet against concurrent controller instances. Only
// one process may hold the lock for a given key at a time; Acquire returns
// ErrLockHeld otherwise.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads objects to blob storage (action-log archives).
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// RateLimiter throttles dashboard API clients. Allow reports whether the key
// may perform another request within the window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
