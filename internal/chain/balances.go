package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// balanceOfSelector is the 4-byte selector of ERC-20 balanceOf(address).
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// Reader implements domain.BalanceSource: it reads the wallet's native and
// token balances with a short-lived cache, and falls back to the last known
// snapshot (marked stale) when a refresh fails.
type Reader struct {
	backend Backend
	wallet  common.Address
	token   common.Address
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cached domain.BalanceSnapshot
	have   bool
}

var _ domain.BalanceSource = (*Reader)(nil)

// NewReader creates a balance reader for one wallet and one tracked token.
func NewReader(backend Backend, wallet, token common.Address, logger *slog.Logger) *Reader {
	return &Reader{
		backend: backend,
		wallet:  wallet,
		token:   token,
		logger:  logger.With(slog.String("component", "balances")),
		now:     time.Now,
	}
}

// Balances returns the cached snapshot when younger than maxAge, otherwise
// refreshes from the chain. A failed refresh serves the previous snapshot
// with Stale set; with no previous snapshot the error wraps ErrUnavailable.
func (r *Reader) Balances(ctx context.Context, maxAge time.Duration) (domain.BalanceSnapshot, error) {
	r.mu.Lock()
	if r.have && r.now().Sub(r.cached.ObservedAt) < maxAge {
		snap := r.cached
		r.mu.Unlock()
		return snap, nil
	}
	r.mu.Unlock()

	snap, err := r.refresh(ctx)
	if err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.have {
			r.logger.Warn("balance refresh failed, serving stale snapshot",
				slog.String("error", err.Error()),
				slog.Time("observed_at", r.cached.ObservedAt))
			stale := r.cached
			stale.Stale = true
			return stale, nil
		}
		return domain.BalanceSnapshot{}, fmt.Errorf("chain: balances: %v: %w", err, domain.ErrUnavailable)
	}

	r.mu.Lock()
	r.cached = snap
	r.have = true
	r.mu.Unlock()
	return snap, nil
}

// Invalidate drops the cached snapshot so the next read hits the chain.
func (r *Reader) Invalidate() {
	r.mu.Lock()
	r.have = false
	r.mu.Unlock()
}

func (r *Reader) refresh(ctx context.Context) (domain.BalanceSnapshot, error) {
	native, err := r.backend.BalanceAt(ctx, r.wallet, nil)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("native balance: %w", err)
	}

	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(r.wallet.Bytes(), 32)...)

	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &r.token,
		Data: data,
	}, nil)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("token balanceOf: %w", err)
	}
	if len(out) < 32 {
		return domain.BalanceSnapshot{}, fmt.Errorf("token balanceOf: short return (%d bytes)", len(out))
	}

	return domain.BalanceSnapshot{
		NativeWei:  native,
		TokenRaw:   new(big.Int).SetBytes(out[:32]),
		ObservedAt: r.now().UTC(),
	}, nil
}
