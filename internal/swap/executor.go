package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/maxx-ecosystem/maxxbot/internal/chain"
	"github.com/maxx-ecosystem/maxxbot/internal/domain"
	"github.com/maxx-ecosystem/maxxbot/internal/keys"
)

var (
	// allowance(address,address)
	allowanceSelector = []byte{0xdd, 0x62, 0xed, 0x3e}
	// approve(address,uint256)
	approveSelector = []byte{0x09, 0x5e, 0xa7, 0xb3}

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

const (
	approveGasLimit   = 80_000
	receiptPollPeriod = 3 * time.Second
)

// Executor implements domain.SwapExecutor: it quotes a route through the
// aggregator, ensures allowance for token sells, signs an EIP-1559
// transaction, submits it, and waits for the receipt.
type Executor struct {
	backend chain.Backend
	fees    *chain.FeeEstimator
	kyber   *KyberClient
	wallet  *keys.Wallet
	chainID *big.Int
	token   common.Address
	router  common.Address

	gasLimit       uint64
	receiptTimeout time.Duration
	logger         *slog.Logger
}

var _ domain.SwapExecutor = (*Executor)(nil)

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Backend        chain.Backend
	Fees           *chain.FeeEstimator
	Kyber          *KyberClient
	Wallet         *keys.Wallet
	ChainID        int64
	TokenAddress   string
	RouterAddress  string
	GasLimit       uint64
	ReceiptTimeout time.Duration
}

// NewExecutor creates a swap executor for one wallet and one token.
func NewExecutor(cfg ExecutorConfig, logger *slog.Logger) *Executor {
	return &Executor{
		backend:        cfg.Backend,
		fees:           cfg.Fees,
		kyber:          cfg.Kyber,
		wallet:         cfg.Wallet,
		chainID:        big.NewInt(cfg.ChainID),
		token:          common.HexToAddress(cfg.TokenAddress),
		router:         common.HexToAddress(cfg.RouterAddress),
		gasLimit:       cfg.GasLimit,
		receiptTimeout: cfg.ReceiptTimeout,
		logger:         logger.With(slog.String("component", "executor")),
	}
}

// Execute swaps amountIn of the source asset into the destination asset.
// Selling the token first ensures the router has allowance, approving once
// with an unlimited amount when it does not.
func (e *Executor) Execute(ctx context.Context, dir domain.Direction, amountIn *big.Int, slippageBps int64) (domain.TxResult, error) {
	tokenIn, tokenOut := NativePlaceholder, e.token.Hex()
	if dir == domain.TokenToNative {
		tokenIn, tokenOut = e.token.Hex(), NativePlaceholder
	}

	route, err := e.kyber.GetRoute(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return domain.TxResult{}, err
	}

	if dir == domain.TokenToNative {
		if err := e.ensureAllowance(ctx, amountIn); err != nil {
			return domain.TxResult{}, err
		}
	}

	built, err := e.kyber.Build(ctx, route, e.wallet.Address.Hex(), slippageBps)
	if err != nil {
		return domain.TxResult{}, err
	}

	to := e.router
	if built.RouterAddr != "" {
		to = common.HexToAddress(built.RouterAddr)
	}
	var value *big.Int
	if dir == domain.NativeToToken {
		value = amountIn
	}

	hash, err := e.submit(ctx, to, value, built.Data, e.gasLimit)
	if err != nil {
		return domain.TxResult{}, err
	}

	e.logger.Info("swap submitted",
		slog.String("direction", string(dir)),
		slog.String("amount_in", amountIn.String()),
		slog.String("min_out", built.MinAmountOut.String()),
		slog.String("tx", hash.Hex()))

	result, err := e.waitReceipt(ctx, hash)
	if err != nil {
		return result, err
	}
	result.AmountOut = built.AmountOut
	return result, nil
}

// ensureAllowance checks the router's allowance on the token and approves an
// unlimited amount when it cannot cover amountIn. The approval is its own
// transaction and must confirm before the swap is submitted.
func (e *Executor) ensureAllowance(ctx context.Context, amountIn *big.Int) error {
	data := make([]byte, 0, 68)
	data = append(data, allowanceSelector...)
	data = append(data, common.LeftPadBytes(e.wallet.Address.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(e.router.Bytes(), 32)...)

	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.token, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("swap: read allowance: %v: %w", err, domain.ErrUnavailable)
	}
	if len(out) >= 32 && new(big.Int).SetBytes(out[:32]).Cmp(amountIn) >= 0 {
		return nil
	}

	e.logger.Info("allowance insufficient, approving router",
		slog.String("router", e.router.Hex()))

	calldata := make([]byte, 0, 68)
	calldata = append(calldata, approveSelector...)
	calldata = append(calldata, common.LeftPadBytes(e.router.Bytes(), 32)...)
	calldata = append(calldata, common.LeftPadBytes(maxUint256.Bytes(), 32)...)

	hash, err := e.submit(ctx, e.token, nil, calldata, approveGasLimit)
	if err != nil {
		return fmt.Errorf("swap: approve: %w", err)
	}

	result, err := e.waitReceipt(ctx, hash)
	if err != nil {
		return fmt.Errorf("swap: approve %s: %w", hash.Hex(), err)
	}
	if result.Status != domain.TxConfirmed {
		return fmt.Errorf("swap: approve %s: %w", hash.Hex(), domain.ErrReverted)
	}
	return nil
}

// CancelPending replaces a stuck pending transaction with a zero-value
// self-transfer at the same nonce and doubled fee caps. Returns ErrNotFound
// when no transaction is pending for the wallet.
func (e *Executor) CancelPending(ctx context.Context) (domain.TxResult, error) {
	latest, err := e.backend.NonceAt(ctx, e.wallet.Address, nil)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("swap: latest nonce: %v: %w", err, domain.ErrUnavailable)
	}
	pending, err := e.backend.PendingNonceAt(ctx, e.wallet.Address)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("swap: pending nonce: %v: %w", err, domain.ErrUnavailable)
	}
	if pending <= latest {
		return domain.TxResult{}, fmt.Errorf("swap: no pending transaction: %w", domain.ErrNotFound)
	}

	feeCap, tipCap, err := e.fees.FeeCaps(ctx)
	if err != nil {
		return domain.TxResult{}, err
	}
	feeCap.Mul(feeCap, big.NewInt(2))
	tipCap.Mul(tipCap, big.NewInt(2))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     latest,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       21_000,
		To:        &e.wallet.Address,
		Value:     big.NewInt(0),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.wallet.Key)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("swap: sign cancel: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return domain.TxResult{}, fmt.Errorf("swap: send cancel: %v: %w", err, domain.ErrUnavailable)
	}

	e.logger.Info("replacement transaction submitted",
		slog.Uint64("nonce", latest), slog.String("tx", signed.Hash().Hex()))

	return e.waitReceipt(ctx, signed.Hash())
}

// submit signs and broadcasts one EIP-1559 transaction, returning its hash.
func (e *Executor) submit(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := e.backend.PendingNonceAt(ctx, e.wallet.Address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("swap: nonce: %v: %w", err, domain.ErrUnavailable)
	}
	feeCap, tipCap, err := e.fees.FeeCaps(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.wallet.Key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("swap: sign: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("swap: send: %v: %w", err, domain.ErrUnavailable)
	}
	return signed.Hash(), nil
}

// waitReceipt polls for the transaction receipt until the timeout. A missing
// receipt at the deadline yields TxPending and an error wrapping ErrPending;
// a status-0 receipt yields TxReverted wrapping ErrReverted.
func (e *Executor) waitReceipt(ctx context.Context, hash common.Hash) (domain.TxResult, error) {
	deadline := time.NewTimer(e.receiptTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(receiptPollPeriod)
	defer poll.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			result := domain.TxResult{Hash: hash.Hex(), GasUsed: receipt.GasUsed}
			if receipt.Status == types.ReceiptStatusSuccessful {
				result.Status = domain.TxConfirmed
				return result, nil
			}
			result.Status = domain.TxReverted
			return result, fmt.Errorf("swap: tx %s: %w", hash.Hex(), domain.ErrReverted)
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			e.logger.Warn("receipt poll failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return domain.TxResult{Hash: hash.Hex(), Status: domain.TxPending},
				fmt.Errorf("swap: tx %s: %v: %w", hash.Hex(), ctx.Err(), domain.ErrPending)
		case <-deadline.C:
			return domain.TxResult{Hash: hash.Hex(), Status: domain.TxPending},
				fmt.Errorf("swap: tx %s: no receipt after %s: %w", hash.Hex(), e.receiptTimeout, domain.ErrPending)
		case <-poll.C:
		}
	}
}
