// Package domain defines the core types and component contracts shared by the
// maxxbot controller: persisted controller state, market/balance snapshots,
// swap results, and the interfaces implemented by the pricing, chain, swap,
// store, and cache layers.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LastAction identifies the most recent state-changing action the controller
// took. Used for logging and operator diagnostics.
type LastAction string

const (
	ActionNone   LastAction = "none"
	ActionBought LastAction = "bought"
	ActionSold   LastAction = "sold"
)

// ControllerState is the persisted state of the reactive controller. It is
// loaded at the start of each tick and written back atomically after any
// state-changing action (never on a hold decision).
type ControllerState struct {
	// Holding reports whether the controller believes it holds a nonzero
	// position in the tracked token.
	Holding bool `json:"holding"`

	// EntryPriceUSD is the USD price at which the current position was
	// acquired. Meaningful only while Holding is true.
	EntryPriceUSD decimal.Decimal `json:"entry_price_usd"`

	// AnchorPriceUSD is the flat-state reference price for the re-entry
	// threshold. It only ratchets upward while flat, and is reset to the sale
	// price immediately after a sell.
	AnchorPriceUSD decimal.Decimal `json:"anchor_price_usd"`

	LastAction   LastAction `json:"last_action"`
	LastActionAt time.Time  `json:"last_action_at"`
}

// NewControllerState returns the default state used on first run: flat, no
// entry price, anchor seeded from the given price (may be zero, in which case
// the first observed price seeds the anchor).
func NewControllerState(anchor decimal.Decimal) ControllerState {
	return ControllerState{
		Holding:        false,
		EntryPriceUSD:  decimal.Zero,
		AnchorPriceUSD: anchor,
		LastAction:     ActionNone,
	}
}

// Equal compares two states by logical value. Decimal fields are compared
// numerically so "0.10" and "0.100" are equal.
func (s ControllerState) Equal(o ControllerState) bool {
	return s.Holding == o.Holding &&
		s.EntryPriceUSD.Equal(o.EntryPriceUSD) &&
		s.AnchorPriceUSD.Equal(o.AnchorPriceUSD) &&
		s.LastAction == o.LastAction &&
		s.LastActionAt.Equal(o.LastActionAt)
}
