package domain

import "errors"

var (
	// ErrUnavailable marks transient failures: a price snapshot, balance, or
	// gas estimate that could not be obtained this tick. Callers skip the tick
	// and retry on the next one; they must never treat it as a zero value.
	ErrUnavailable = errors.New("unavailable")

	// ErrNoRoute means the swap aggregator could not build a route for the
	// requested pair and amount. Non-retryable within the tick.
	ErrNoRoute = errors.New("no swap route")

	// ErrReverted means the swap transaction was mined but reverted. The
	// controller treats this as a no-op for state purposes.
	ErrReverted = errors.New("transaction reverted")

	// ErrPending means the transaction was submitted but no receipt arrived
	// within the wait window. The controller must not assume success or
	// failure; it re-derives truth from balances on the next tick.
	ErrPending = errors.New("transaction pending")

	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)
