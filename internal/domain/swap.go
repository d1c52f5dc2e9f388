package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Direction selects which side of the pair a swap trades from.
type Direction string

const (
	NativeToToken Direction = "native_to_token"
	TokenToNative Direction = "token_to_native"
)

// TxStatus is the terminal (or last observed) status of a submitted swap.
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxPending   TxStatus = "pending"
	TxReverted  TxStatus = "reverted"
)

// TxResult describes the outcome of a submitted on-chain transaction.
type TxResult struct {
	Hash    string
	Status  TxStatus
	GasUsed uint64

	// AmountOut is the output amount reported by the route quote, in the
	// destination asset's smallest unit. Informational; the on-chain truth is
	// re-read from balances after confirmation.
	AmountOut *big.Int
}

// ActionKind classifies a recorded controller action.
type ActionKind string

const (
	ActionKindBuy      ActionKind = "buy"
	ActionKindSell     ActionKind = "sell"
	ActionKindDustFlat ActionKind = "dust_flat"
	ActionKindCancel   ActionKind = "cancel_pending"
)

// ActionRecord is one row of the durable action log: a state-changing action
// together with the decision inputs that justified it, so an operator can
// reconstruct why the controller acted.
type ActionRecord struct {
	ID           string          `json:"id"`
	Kind         ActionKind      `json:"kind"`
	Mode         string          `json:"mode"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	AnchorUSD    decimal.Decimal `json:"anchor_usd"`
	EntryUSD     decimal.Decimal `json:"entry_usd"`
	AmountToken  decimal.Decimal `json:"amount_token"`
	AmountNative decimal.Decimal `json:"amount_native"`
	GasCostUSD   decimal.Decimal `json:"gas_cost_usd"`
	TxHash       string          `json:"tx_hash"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
