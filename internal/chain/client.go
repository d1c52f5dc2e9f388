// Package chain talks to the EVM chain: a failover pool of JSON-RPC clients,
// wallet balance reads, and fee-based gas cost estimation.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of the Ethereum JSON-RPC surface the bot uses. Pool
// implements it with endpoint failover; tests substitute a fake.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Pool is a set of JSON-RPC endpoints tried in order. The active endpoint
// serves all requests until a call fails, at which point the pool rotates to
// the next one and retries once.
type Pool struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients []*ethclient.Client
	urls    []string
	active  int
}

var _ Backend = (*Pool)(nil)

// NewPool dials every endpoint. At least one must be reachable; unreachable
// endpoints are kept in rotation and retried on failover.
func NewPool(ctx context.Context, endpoints []string, logger *slog.Logger) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chain: no rpc endpoints configured")
	}

	p := &Pool{
		logger:  logger.With(slog.String("component", "rpcpool")),
		clients: make([]*ethclient.Client, len(endpoints)),
		urls:    append([]string(nil), endpoints...),
	}

	var ok bool
	for i, url := range endpoints {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			p.logger.Warn("rpc endpoint unreachable at startup",
				slog.String("url", url), slog.String("error", err.Error()))
			continue
		}
		p.clients[i] = client
		ok = true
	}
	if !ok {
		return nil, fmt.Errorf("chain: no rpc endpoint reachable")
	}
	return p, nil
}

// Close releases all dialed connections.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if c != nil {
			c.Close()
		}
	}
}

// do runs fn against the active client, rotating and retrying once per
// remaining endpoint on failure.
func (p *Pool) do(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < len(p.urls); attempt++ {
		client, url := p.current(ctx)
		if client == nil {
			p.rotate(url)
			lastErr = fmt.Errorf("chain: endpoint %s not connected", url)
			continue
		}

		if err := fn(client); err != nil {
			if ctx.Err() != nil || !shouldFailover(err) {
				return err
			}
			p.logger.Warn("rpc call failed, rotating endpoint",
				slog.String("url", url), slog.String("error", err.Error()))
			p.rotate(url)
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("chain: all rpc endpoints failed: %w", lastErr)
}

// shouldFailover reports whether an RPC error indicates a broken endpoint.
// ethereum.NotFound is a valid answer from a healthy node (a receipt poll for
// a transaction that has not been mined yet) and must not burn through the
// rotation.
func shouldFailover(err error) bool {
	return !errors.Is(err, ethereum.NotFound)
}

// current returns the active client, redialing it if the initial dial failed.
func (p *Pool) current(ctx context.Context) (*ethclient.Client, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.active
	if p.clients[idx] == nil {
		client, err := ethclient.DialContext(ctx, p.urls[idx])
		if err == nil {
			p.clients[idx] = client
		}
	}
	return p.clients[idx], p.urls[idx]
}

// rotate advances the active endpoint, but only if no other goroutine already
// rotated away from the failed url.
func (p *Pool) rotate(failedURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.urls[p.active] == failedURL {
		p.active = (p.active + 1) % len(p.urls)
	}
}

func (p *Pool) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var out *big.Int
	err := p.do(ctx, func(c *ethclient.Client) error {
		var err error
		out, err = c.BalanceAt(ctx, account, blockNumber)
		return err
	})
	return out, err
}

func (p *Pool) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := p.do(ctx, func(c *ethclient.Client) error {
		var err error
		out, err = c.CallContract(ctx, call, blockNumber)
		return err
	})
	return out, err
}

func (p *Pool) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var out *types.Header
	err := p.do(ctx, func(c *ethclient.Client) error {
		var err error
		out, err = c.HeaderByNumber(ctx, number)
		return err
	})
	return out, err
}

func (p *Pool) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := p.do(ctx, func(c *ethclient.Client) error {
		var err error
		out, err = c.SuggestGasTipCap(ctx)
		return err
	})
	return out, err
}

func (p *Pool) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var out uint64
	err := p.do(ctx, func(c *ethclient.Client) error {
		var err error
		out, err = c.PendingNonceAt(ctx, account)
		return err
	})
	return out, err
}

func (p *Pool) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	var out uint64
	err := p.do(ctx, func(c *ethclient.Client) error {
		var err error
		out, err = c.NonceAt(ctx, account, blockNumber)
		return err
	})
	return out, err
}

func (p *Pool) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return p.do(ctx, func(c *ethclient.Client) error {
		return c.SendTransaction(ctx, tx)
	})
}

func (p *Pool) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var out *types.Receipt
	err := p.do(ctx, func(c *ethclient.Client) error {
		var err error
		out, err = c.TransactionReceipt(ctx, txHash)
		return err
	})
	return out, err
}
