package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// fakeBackend is a scriptable Backend for reader and estimator tests.
type fakeBackend struct {
	native     *big.Int
	nativeErr  error
	tokenRaw   *big.Int
	tokenErr   error
	baseFee    *big.Int
	headerErr  error
	tip        *big.Int
	tipErr     error
	balanceOps int
	callData   []byte
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.balanceOps++
	return f.native, f.nativeErr
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.callData = call.Data
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return common.LeftPadBytes(f.tokenRaw.Bytes(), 32), nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if f.headerErr != nil {
		return nil, f.headerErr
	}
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.tip, f.tipErr
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

var (
	testWallet = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testToken  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReaderReadsAndEncodesBalanceOf(t *testing.T) {
	fake := &fakeBackend{
		native:   big.NewInt(5e15),
		tokenRaw: big.NewInt(123456),
	}
	r := NewReader(fake, testWallet, testToken, discardLogger())

	snap, err := r.Balances(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("Balances returned error: %v", err)
	}
	if snap.NativeWei.Cmp(big.NewInt(5e15)) != 0 {
		t.Fatalf("NativeWei=%s, expected 5e15", snap.NativeWei)
	}
	if snap.TokenRaw.Cmp(big.NewInt(123456)) != 0 {
		t.Fatalf("TokenRaw=%s, expected 123456", snap.TokenRaw)
	}
	if snap.Stale {
		t.Fatal("fresh snapshot marked stale")
	}

	// balanceOf(address) calldata: selector + left-padded wallet.
	if len(fake.callData) != 36 {
		t.Fatalf("calldata length=%d, expected 36", len(fake.callData))
	}
	wantSelector := []byte{0x70, 0xa0, 0x82, 0x31}
	for i, b := range wantSelector {
		if fake.callData[i] != b {
			t.Fatalf("calldata selector=%x, expected %x", fake.callData[:4], wantSelector)
		}
	}
	if got := common.BytesToAddress(fake.callData[4:]); got != testWallet {
		t.Fatalf("calldata address=%s, expected %s", got, testWallet)
	}
}

func TestReaderServesCacheWithinMaxAge(t *testing.T) {
	fake := &fakeBackend{native: big.NewInt(1), tokenRaw: big.NewInt(2)}
	r := NewReader(fake, testWallet, testToken, discardLogger())

	if _, err := r.Balances(context.Background(), time.Minute); err != nil {
		t.Fatalf("first Balances: %v", err)
	}
	if _, err := r.Balances(context.Background(), time.Minute); err != nil {
		t.Fatalf("second Balances: %v", err)
	}
	if fake.balanceOps != 1 {
		t.Fatalf("backend hit %d times, expected 1 (cache)", fake.balanceOps)
	}

	r.Invalidate()
	if _, err := r.Balances(context.Background(), time.Minute); err != nil {
		t.Fatalf("post-invalidate Balances: %v", err)
	}
	if fake.balanceOps != 2 {
		t.Fatalf("backend hit %d times after Invalidate, expected 2", fake.balanceOps)
	}
}

func TestReaderFallsBackToStaleSnapshot(t *testing.T) {
	fake := &fakeBackend{native: big.NewInt(7), tokenRaw: big.NewInt(9)}
	r := NewReader(fake, testWallet, testToken, discardLogger())
	r.now = func() time.Time { return time.Unix(1000, 0) }

	if _, err := r.Balances(context.Background(), time.Minute); err != nil {
		t.Fatalf("seed Balances: %v", err)
	}

	// Age the cache out and make the refresh fail.
	r.now = func() time.Time { return time.Unix(2000, 0) }
	fake.nativeErr = errors.New("rpc down")

	snap, err := r.Balances(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("Balances returned error with stale fallback available: %v", err)
	}
	if !snap.Stale {
		t.Fatal("fallback snapshot not marked stale")
	}
	if snap.NativeWei.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("stale NativeWei=%s, expected 7", snap.NativeWei)
	}
}

func TestReaderNoSnapshotReturnsUnavailable(t *testing.T) {
	fake := &fakeBackend{nativeErr: errors.New("rpc down")}
	r := NewReader(fake, testWallet, testToken, discardLogger())

	_, err := r.Balances(context.Background(), time.Minute)
	if err == nil {
		t.Fatal("Balances returned nil with no cache and failed refresh")
	}
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("error %v does not wrap ErrUnavailable", err)
	}
}

// newTestPool builds a two-endpoint Pool whose clients dial an idle HTTP
// server; the pool never issues real requests because do is driven with a
// scripted fn.
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	clients := make([]*ethclient.Client, 2)
	for i := range clients {
		c, err := ethclient.Dial(srv.URL)
		if err != nil {
			t.Fatalf("dial test server: %v", err)
		}
		clients[i] = c
	}
	p := &Pool{
		logger:  discardLogger(),
		clients: clients,
		urls:    []string{srv.URL + "/a", srv.URL + "/b"},
	}
	t.Cleanup(p.Close)
	return p
}

func TestPoolNotFoundIsTerminalNotFailover(t *testing.T) {
	p := newTestPool(t)

	calls := 0
	err := p.do(context.Background(), func(*ethclient.Client) error {
		calls++
		return ethereum.NotFound
	})
	if !errors.Is(err, ethereum.NotFound) {
		t.Fatalf("error %v does not wrap ethereum.NotFound", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, expected 1 (no retry for a valid answer)", calls)
	}
	if p.active != 0 {
		t.Fatal("pool rotated away from a healthy endpoint")
	}
}

func TestPoolRotatesThroughEndpointsOnFault(t *testing.T) {
	p := newTestPool(t)

	calls := 0
	err := p.do(context.Background(), func(*ethclient.Client) error {
		calls++
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("do returned nil with every endpoint failing")
	}
	if calls != 2 {
		t.Fatalf("fn called %d times, expected once per endpoint", calls)
	}
}

func TestFeeEstimatorUpperBound(t *testing.T) {
	fake := &fakeBackend{
		baseFee: big.NewInt(100),
		tip:     big.NewInt(10),
	}
	e := NewFeeEstimator(fake, discardLogger())

	cost, err := e.EstimateNative(context.Background(), 1000)
	if err != nil {
		t.Fatalf("EstimateNative returned error: %v", err)
	}
	// (2*100 + 10) * 1000 = 210000
	if cost.Cmp(big.NewInt(210_000)) != 0 {
		t.Fatalf("cost=%s, expected 210000", cost)
	}
}

func TestFeeEstimatorUnavailable(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeBackend
	}{
		{"header error", &fakeBackend{headerErr: errors.New("down")}},
		{"no base fee", &fakeBackend{baseFee: nil, tip: big.NewInt(1)}},
		{"tip error", &fakeBackend{baseFee: big.NewInt(1), tipErr: errors.New("down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewFeeEstimator(tt.fake, discardLogger())
			if _, err := e.EstimateNative(context.Background(), 21000); !errors.Is(err, domain.ErrUnavailable) {
				t.Fatalf("error %v does not wrap ErrUnavailable", err)
			}
		})
	}
}
