package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot is a point-in-time view of the tracked token's market price.
// It is ephemeral and never persisted; a snapshot older than its validity
// window must be refetched, not reused.
type PriceSnapshot struct {
	// TokenUSD is the token price in US dollars.
	TokenUSD decimal.Decimal

	// TokenNative is the token price denominated in the chain's native asset.
	TokenNative decimal.Decimal

	// NativeUSD is the native asset's USD price, derived as
	// TokenUSD / TokenNative when the denominator is nonzero.
	NativeUSD decimal.Decimal

	ObservedAt time.Time
}

// BalanceSnapshot is a cached view of the wallet's on-chain balances.
type BalanceSnapshot struct {
	// NativeWei is the native-asset balance in wei.
	NativeWei *big.Int

	// TokenRaw is the tracked token balance in its smallest unit.
	TokenRaw *big.Int

	ObservedAt time.Time

	// Stale is set when the snapshot was served from cache after a failed
	// refresh; the data is the last known truth, not current truth.
	Stale bool
}

// TokenAmount converts the raw token balance to a whole-token decimal using
// the token's configured decimals.
func (b BalanceSnapshot) TokenAmount(decimals int32) decimal.Decimal {
	if b.TokenRaw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(b.TokenRaw, -decimals)
}

// NativeAmount converts the wei balance to a whole-unit decimal (18 decimals).
func (b BalanceSnapshot) NativeAmount() decimal.Decimal {
	if b.NativeWei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(b.NativeWei, -18)
}
