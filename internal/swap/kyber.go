// Package swap routes and executes token swaps through the KyberSwap
// aggregator: quote a route, build router calldata, then sign and submit the
// transaction on-chain.
package swap

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// NativePlaceholder is the aggregator's conventional address for the chain's
// native asset.
const NativePlaceholder = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// KyberClient calls the KyberSwap aggregator HTTP API.
type KyberClient struct {
	host       string
	chainSlug  string
	clientID   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewKyberClient creates an aggregator client for one chain.
func NewKyberClient(host, chainSlug, clientID string, logger *slog.Logger) *KyberClient {
	return &KyberClient{
		host:       strings.TrimRight(host, "/"),
		chainSlug:  chainSlug,
		clientID:   clientID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With(slog.String("component", "kyber")),
	}
}

// Route is a quoted swap route plus the routerAddress to send it to. The
// summary is opaque: it is passed back verbatim to the build endpoint.
type Route struct {
	AmountOut     *big.Int
	RouterAddress string
	summary       json.RawMessage
}

// BuiltTx is ready-to-sign router calldata for a quoted route.
type BuiltTx struct {
	Data         []byte
	RouterAddr   string
	AmountOut    *big.Int
	MinAmountOut *big.Int
}

type kyberEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// GetRoute quotes a route for swapping amountIn of tokenIn into tokenOut.
// A missing or empty route is reported as an error wrapping ErrNoRoute;
// transport failures wrap ErrUnavailable.
func (k *KyberClient) GetRoute(ctx context.Context, tokenIn, tokenOut string, amountIn *big.Int) (*Route, error) {
	q := url.Values{}
	q.Set("tokenIn", tokenIn)
	q.Set("tokenOut", tokenOut)
	q.Set("amountIn", amountIn.String())

	reqURL := fmt.Sprintf("%s/%s/api/v1/routes?%s", k.host, k.chainSlug, q.Encode())
	data, err := k.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var payload struct {
		RouteSummary  json.RawMessage `json:"routeSummary"`
		RouterAddress string          `json:"routerAddress"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("swap: decode route: %v: %w", err, domain.ErrUnavailable)
	}
	if len(payload.RouteSummary) == 0 || string(payload.RouteSummary) == "null" {
		return nil, fmt.Errorf("swap: %s -> %s amount %s: %w", tokenIn, tokenOut, amountIn, domain.ErrNoRoute)
	}

	var summary struct {
		AmountOut string `json:"amountOut"`
	}
	if err := json.Unmarshal(payload.RouteSummary, &summary); err != nil {
		return nil, fmt.Errorf("swap: decode route summary: %v: %w", err, domain.ErrUnavailable)
	}
	amountOut, ok := new(big.Int).SetString(summary.AmountOut, 10)
	if !ok || amountOut.Sign() <= 0 {
		return nil, fmt.Errorf("swap: route amountOut %q unusable: %w", summary.AmountOut, domain.ErrNoRoute)
	}

	return &Route{
		AmountOut:     amountOut,
		RouterAddress: payload.RouterAddress,
		summary:       payload.RouteSummary,
	}, nil
}

// Build asks the aggregator to encode router calldata for a quoted route.
// slippageBps bounds how much worse than the quote the executed price may be.
func (k *KyberClient) Build(ctx context.Context, route *Route, sender string, slippageBps int64) (*BuiltTx, error) {
	body, err := json.Marshal(map[string]any{
		"routeSummary":      json.RawMessage(route.summary),
		"sender":            sender,
		"recipient":         sender,
		"slippageTolerance": slippageBps,
		"deadline":          time.Now().Add(20 * time.Minute).Unix(),
		"source":            k.clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("swap: marshal build request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/%s/api/v1/route/build", k.host, k.chainSlug)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("swap: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	k.setClientHeader(req)

	data, err := k.doRequest(req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data          string `json:"data"`
		RouterAddress string `json:"routerAddress"`
		AmountOut     string `json:"amountOut"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("swap: decode built tx: %v: %w", err, domain.ErrUnavailable)
	}
	if payload.Data == "" {
		return nil, fmt.Errorf("swap: build returned empty calldata: %w", domain.ErrNoRoute)
	}

	calldata, err := decodeHex(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("swap: bad calldata %q: %w", truncate(payload.Data, 32), domain.ErrUnavailable)
	}

	amountOut := route.AmountOut
	if v, ok := new(big.Int).SetString(payload.AmountOut, 10); ok && v.Sign() > 0 {
		amountOut = v
	}
	routerAddr := payload.RouterAddress
	if routerAddr == "" {
		routerAddr = route.RouterAddress
	}

	return &BuiltTx{
		Data:         calldata,
		RouterAddr:   routerAddr,
		AmountOut:    amountOut,
		MinAmountOut: applySlippage(amountOut, slippageBps),
	}, nil
}

func (k *KyberClient) get(ctx context.Context, reqURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("swap: build request: %w", err)
	}
	k.setClientHeader(req)
	return k.doRequest(req)
}

func (k *KyberClient) doRequest(req *http.Request) (json.RawMessage, error) {
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swap: aggregator request: %v: %w", err, domain.ErrUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("swap: read response: %v: %w", err, domain.ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap: aggregator status %d: %s: %w",
			resp.StatusCode, truncate(string(raw), 200), domain.ErrUnavailable)
	}

	var env kyberEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("swap: decode envelope: %v: %w", err, domain.ErrUnavailable)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("swap: aggregator code %d: %s: %w", env.Code, env.Message, domain.ErrNoRoute)
	}
	return env.Data, nil
}

func (k *KyberClient) setClientHeader(req *http.Request) {
	if k.clientID != "" {
		req.Header.Set("X-Client-Id", k.clientID)
	}
}

// applySlippage reduces amount by bps basis points, rounding down.
func applySlippage(amount *big.Int, bps int64) *big.Int {
	keep := big.NewInt(10_000 - bps)
	out := new(big.Int).Mul(amount, keep)
	return out.Div(out, big.NewInt(10_000))
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
