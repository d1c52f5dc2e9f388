// Package pricing implements the price feed for the tracked token using the
// DexScreener pair endpoint. DexScreener reports the pair price both in USD
// and in the chain's native asset, which lets the controller derive the native
// asset's USD price without a second feed.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// Client fetches price snapshots from the DexScreener pairs API.
type Client struct {
	host        string
	chainSlug   string
	pairAddress string
	httpClient  *http.Client
	logger      *slog.Logger

	// alpha in (0,1) enables exponential smoothing of the derived native USD
	// price; 0 disables it. The token's own price is never smoothed: trade
	// decisions must see the raw market.
	alpha float64

	mu             sync.Mutex
	smoothedNative decimal.Decimal
}

var _ domain.PriceSource = (*Client)(nil)

// Options configures optional Client behavior.
type Options struct {
	RequestTimeout time.Duration
	SmoothingAlpha float64
}

// NewClient creates a DexScreener client for one pair.
func NewClient(host, chainSlug, pairAddress string, opts Options, logger *slog.Logger) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		host:        host,
		chainSlug:   chainSlug,
		pairAddress: pairAddress,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.With(slog.String("component", "pricing")),
		alpha:       opts.SmoothingAlpha,
	}
}

// pairResponse is the DexScreener /latest/dex/pairs envelope. Prices arrive as
// decimal strings; parsing them with decimal avoids float drift.
type pairResponse struct {
	Pairs []pairPayload `json:"pairs"`
	Pair  *pairPayload  `json:"pair"`
}

type pairPayload struct {
	ChainID     string `json:"chainId"`
	PairAddress string `json:"pairAddress"`
	PriceNative string `json:"priceNative"`
	PriceUsd    string `json:"priceUsd"`
}

// Snapshot fetches the current pair price. Any transport, decode, or sanity
// failure is reported as an error wrapping domain.ErrUnavailable so the
// caller skips the tick rather than acting on a bogus price.
func (c *Client) Snapshot(ctx context.Context) (domain.PriceSnapshot, error) {
	url := fmt.Sprintf("%s/latest/dex/pairs/%s/%s", c.host, c.chainSlug, c.pairAddress)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("pricing: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("pricing: fetch pair: %v: %w", err, domain.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.PriceSnapshot{}, fmt.Errorf("pricing: dexscreener status %d: %w", resp.StatusCode, domain.ErrUnavailable)
	}

	var payload pairResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("pricing: decode response: %v: %w", err, domain.ErrUnavailable)
	}

	pair := payload.Pair
	if pair == nil && len(payload.Pairs) > 0 {
		pair = &payload.Pairs[0]
	}
	if pair == nil {
		return domain.PriceSnapshot{}, fmt.Errorf("pricing: pair %s not found: %w", c.pairAddress, domain.ErrUnavailable)
	}

	tokenUSD, err := decimal.NewFromString(pair.PriceUsd)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("pricing: bad priceUsd %q: %w", pair.PriceUsd, domain.ErrUnavailable)
	}
	tokenNative, err := decimal.NewFromString(pair.PriceNative)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("pricing: bad priceNative %q: %w", pair.PriceNative, domain.ErrUnavailable)
	}
	if !tokenUSD.IsPositive() || !tokenNative.IsPositive() {
		return domain.PriceSnapshot{}, fmt.Errorf("pricing: non-positive price (usd=%s native=%s): %w",
			tokenUSD, tokenNative, domain.ErrUnavailable)
	}

	nativeUSD := tokenUSD.DivRound(tokenNative, 18)
	nativeUSD = c.smooth(nativeUSD)

	snap := domain.PriceSnapshot{
		TokenUSD:    tokenUSD,
		TokenNative: tokenNative,
		NativeUSD:   nativeUSD,
		ObservedAt:  time.Now().UTC(),
	}

	c.logger.Debug("price snapshot",
		slog.String("token_usd", snap.TokenUSD.String()),
		slog.String("token_native", snap.TokenNative.String()),
		slog.String("native_usd", snap.NativeUSD.String()))

	return snap, nil
}

// smooth applies EWMA to the native USD price when enabled. The native price
// only feeds gas-cost conversion, where jitter matters more than latency.
func (c *Client) smooth(nativeUSD decimal.Decimal) decimal.Decimal {
	if c.alpha <= 0 || c.alpha >= 1 {
		return nativeUSD
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.smoothedNative.IsZero() {
		c.smoothedNative = nativeUSD
		return nativeUSD
	}

	a := decimal.NewFromFloat(c.alpha)
	one := decimal.NewFromInt(1)
	c.smoothedNative = nativeUSD.Mul(a).Add(c.smoothedNative.Mul(one.Sub(a)))
	return c.smoothedNative
}
