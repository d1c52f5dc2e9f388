package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakePrices struct {
	snaps []domain.PriceSnapshot
	errs  []error
	calls int
}

func (f *fakePrices) Snapshot(ctx context.Context) (domain.PriceSnapshot, error) {
	i := f.calls
	f.calls++
	if i >= len(f.snaps) {
		i = len(f.snaps) - 1
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return domain.PriceSnapshot{}, f.errs[i]
	}
	return f.snaps[i], nil
}

type fakeBalances struct {
	snap domain.BalanceSnapshot
	// snaps, when set, is served per call instead of snap, repeating the last
	// entry once exhausted.
	snaps       []domain.BalanceSnapshot
	err         error
	calls       int
	invalidates int
}

func (f *fakeBalances) Balances(ctx context.Context, maxAge time.Duration) (domain.BalanceSnapshot, error) {
	i := f.calls
	f.calls++
	if f.err != nil {
		return domain.BalanceSnapshot{}, f.err
	}
	if len(f.snaps) > 0 {
		if i >= len(f.snaps) {
			i = len(f.snaps) - 1
		}
		return f.snaps[i], nil
	}
	return f.snap, nil
}

func (f *fakeBalances) Invalidate() { f.invalidates++ }

type fakeGas struct {
	wei *big.Int
	err error
}

func (f *fakeGas) EstimateNative(ctx context.Context, gasUnits uint64) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.wei), nil
}

type swapCall struct {
	dir      domain.Direction
	amountIn *big.Int
}

type fakeSwapper struct {
	result domain.TxResult
	err    error
	calls  []swapCall
}

func (f *fakeSwapper) Execute(ctx context.Context, dir domain.Direction, amountIn *big.Int, slippageBps int64) (domain.TxResult, error) {
	f.calls = append(f.calls, swapCall{dir: dir, amountIn: new(big.Int).Set(amountIn)})
	if f.err != nil {
		return domain.TxResult{}, f.err
	}
	return f.result, nil
}

type memStore struct {
	mu    sync.Mutex
	state domain.ControllerState
	have  bool
	saves int
}

func (m *memStore) Load() (domain.ControllerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.have {
		return domain.NewControllerState(decimal.Zero), nil
	}
	return m.state, nil
}

func (m *memStore) Save(st domain.ControllerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.have = true
	m.saves++
	return nil
}

type memActions struct {
	records []domain.ActionRecord
}

func (m *memActions) Insert(ctx context.Context, rec domain.ActionRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memActions) ListRecent(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	return m.records, nil
}

func (m *memActions) ListBefore(ctx context.Context, before time.Time) ([]domain.ActionRecord, error) {
	return nil, nil
}

func (m *memActions) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func priceSnap(usd string) domain.PriceSnapshot {
	tokenUSD := dec(usd)
	nativeUSD := dec("2000")
	return domain.PriceSnapshot{
		TokenUSD:    tokenUSD,
		TokenNative: tokenUSD.Div(nativeUSD),
		NativeUSD:   nativeUSD,
		ObservedAt:  time.Unix(1_700_000_000, 0),
	}
}

type harness struct {
	ctrl    *Controller
	prices  *fakePrices
	bal     *fakeBalances
	gas     *fakeGas
	swapper *fakeSwapper
	store   *memStore
	actions *memActions
}

func newHarness(t *testing.T, initial *domain.ControllerState) *harness {
	t.Helper()

	h := &harness{
		prices:  &fakePrices{},
		bal:     &fakeBalances{},
		gas:     &fakeGas{wei: big.NewInt(1e12)}, // 1e12 wei * $2000/1e18 = $0.000002
		swapper: &fakeSwapper{result: domain.TxResult{Hash: "0xabc", Status: domain.TxConfirmed, AmountOut: big.NewInt(1)}},
		store:   &memStore{},
		actions: &memActions{},
	}
	if initial != nil {
		h.store.state = *initial
		h.store.have = true
	}

	cfg := Config{
		Mode:          "reactive",
		TokenSymbol:   "MAXX",
		TokenDecimals: 18,
		SellGainPct:   dec("0.10"),
		RebuyDropPct:  dec("0.10"),
		GasCapUSD:     dec("0.015"),
		ReserveNative: dec("0.001"),
		DustTokens:    dec("0.000001"),
		SlippageBps:   100,
		SwapGasUnits:  350_000,
		TickInterval:  time.Second,
		BalanceMaxAge: 20 * time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.ctrl = New(cfg, Deps{
		Prices:   h.prices,
		Balances: h.bal,
		Gas:      h.gas,
		Swapper:  h.swapper,
		States:   h.store,
		Actions:  h.actions,
	}, logger)
	h.ctrl.now = func() time.Time { return time.Unix(1_700_000_100, 0) }
	return h
}

func oneNative() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) // 1e18 wei
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneNative())
}

// ---------------------------------------------------------------------------
// Scenario tests
// ---------------------------------------------------------------------------

func TestBuyTriggeredOnDropFromAnchor(t *testing.T) {
	initial := domain.NewControllerState(dec("0.0010"))
	h := newHarness(t, &initial)
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("0.0009")} // exactly -10%
	h.bal.snap = domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: big.NewInt(0)}

	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if len(h.swapper.calls) != 1 || h.swapper.calls[0].dir != domain.NativeToToken {
		t.Fatalf("calls=%+v, expected one native_to_token swap", h.swapper.calls)
	}

	// Spend-all sizing: 1e18 - reserve(1e15) - gas(1e12).
	want := new(big.Int).Sub(oneNative(), big.NewInt(1e15))
	want.Sub(want, big.NewInt(1e12))
	if h.swapper.calls[0].amountIn.Cmp(want) != 0 {
		t.Fatalf("amountIn=%s, expected %s", h.swapper.calls[0].amountIn, want)
	}

	st := h.ctrl.State()
	if !st.Holding {
		t.Fatal("expected holding=true after buy")
	}
	if !st.EntryPriceUSD.Equal(dec("0.0009")) {
		t.Fatalf("entry=%s, expected 0.0009", st.EntryPriceUSD)
	}
	if st.LastAction != domain.ActionBought {
		t.Fatalf("LastAction=%s, expected bought", st.LastAction)
	}
	if h.store.saves != 1 {
		t.Fatalf("saves=%d, expected 1", h.store.saves)
	}
	if len(h.actions.records) != 1 || h.actions.records[0].Kind != domain.ActionKindBuy {
		t.Fatalf("action log=%+v, expected one buy record", h.actions.records)
	}
}

func TestSellTriggeredAtExactThreshold(t *testing.T) {
	initial := domain.ControllerState{
		Holding:        true,
		EntryPriceUSD:  dec("0.0009"),
		AnchorPriceUSD: dec("0.0010"),
		LastAction:     domain.ActionBought,
	}
	h := newHarness(t, &initial)
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("0.00099")} // exactly entry*1.10
	h.bal.snap = domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: tokens(500)}

	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if len(h.swapper.calls) != 1 || h.swapper.calls[0].dir != domain.TokenToNative {
		t.Fatalf("calls=%+v, expected one token_to_native swap", h.swapper.calls)
	}
	if h.swapper.calls[0].amountIn.Cmp(tokens(500)) != 0 {
		t.Fatalf("amountIn=%s, expected full balance", h.swapper.calls[0].amountIn)
	}

	st := h.ctrl.State()
	if st.Holding {
		t.Fatal("expected holding=false after sell")
	}
	if !st.AnchorPriceUSD.Equal(dec("0.00099")) {
		t.Fatalf("anchor=%s, expected reset to sale price 0.00099", st.AnchorPriceUSD)
	}
	if !st.EntryPriceUSD.IsZero() {
		t.Fatalf("entry=%s, expected cleared", st.EntryPriceUSD)
	}
	if st.LastAction != domain.ActionSold {
		t.Fatalf("LastAction=%s, expected sold", st.LastAction)
	}
	if h.bal.invalidates == 0 {
		t.Fatal("balance cache not invalidated after sell")
	}
}

func TestFlatRatchetsAnchorWithoutTrading(t *testing.T) {
	initial := domain.NewControllerState(dec("0.00099"))
	h := newHarness(t, &initial)
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("0.0011")}
	h.bal.snap = domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: big.NewInt(0)}

	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if len(h.swapper.calls) != 0 {
		t.Fatalf("ratchet tick executed a swap: %+v", h.swapper.calls)
	}
	if got := h.ctrl.State().AnchorPriceUSD; !got.Equal(dec("0.0011")) {
		t.Fatalf("anchor=%s, expected ratcheted to 0.0011", got)
	}
}

func TestUnavailablePriceLeavesStateUntouched(t *testing.T) {
	initial := domain.NewControllerState(dec("0.0011"))
	h := newHarness(t, &initial)
	errUnavail := fmt.Errorf("fetch: %w", domain.ErrUnavailable)
	h.prices.snaps = []domain.PriceSnapshot{{}, {}, {}}
	h.prices.errs = []error{errUnavail, errUnavail, errUnavail}

	for i := 0; i < 3; i++ {
		if err := h.ctrl.Tick(context.Background()); err != nil {
			t.Fatalf("Tick %d returned error: %v", i, err)
		}
	}

	if len(h.swapper.calls) != 0 {
		t.Fatal("unavailable ticks must not trade")
	}
	if h.store.saves != 0 {
		t.Fatalf("saves=%d, unavailable ticks must not persist", h.store.saves)
	}
	if !h.ctrl.State().Equal(initial) {
		t.Fatalf("state changed across unavailable ticks: %+v", h.ctrl.State())
	}
}

func TestDustForcesFlatWithoutSelling(t *testing.T) {
	initial := domain.ControllerState{
		Holding:        true,
		EntryPriceUSD:  dec("0.0009"),
		AnchorPriceUSD: dec("0.0010"),
		LastAction:     domain.ActionBought,
		LastActionAt:   time.Unix(1_600_000_000, 0),
	}
	h := newHarness(t, &initial)
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("0.0009")}
	// 0.0000005 tokens, below dust=0.000001.
	h.bal.snap = domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: big.NewInt(5e11)}

	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if len(h.swapper.calls) != 0 {
		t.Fatal("dust handling must not invoke the swap executor")
	}
	st := h.ctrl.State()
	if st.Holding {
		t.Fatal("expected holding=false after dust")
	}
	if st.LastAction != domain.ActionBought {
		t.Fatalf("LastAction=%s, expected unchanged (bought)", st.LastAction)
	}
	if h.store.saves != 1 {
		t.Fatalf("saves=%d, dust transition must persist once", h.store.saves)
	}
	if len(h.actions.records) != 1 || h.actions.records[0].Kind != domain.ActionKindDustFlat {
		t.Fatalf("action log=%+v, expected one dust_flat record", h.actions.records)
	}
}

func TestGasOverCapSkipsBuyUntilCheap(t *testing.T) {
	initial := domain.NewControllerState(dec("0.0010"))
	h := newHarness(t, &initial)
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("0.0009"), priceSnap("0.0009")}
	h.bal.snap = domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: big.NewInt(0)}

	// 2.5e13 wei * 2000 USD / 1e18 = $0.05 > cap $0.015.
	h.gas.wei = big.NewInt(25e12)

	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if len(h.swapper.calls) != 0 {
		t.Fatal("over-cap gas must skip the buy")
	}
	if h.store.saves != 0 || !h.ctrl.State().Equal(initial) {
		t.Fatal("over-cap tick must not mutate state")
	}

	// Gas falls under the cap, buy goes through next tick.
	h.gas.wei = big.NewInt(1e12)
	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick returned error: %v", err)
	}
	if len(h.swapper.calls) != 1 {
		t.Fatalf("calls=%d, expected buy once gas is cheap", len(h.swapper.calls))
	}
}

// ---------------------------------------------------------------------------
// Property tests
// ---------------------------------------------------------------------------

func TestAnchorRatchetMonotonicWhileFlat(t *testing.T) {
	initial := domain.NewControllerState(dec("0.0010"))
	h := newHarness(t, &initial)
	// Prices wander but never hit the -10% buy threshold relative to the
	// running anchor maximum.
	seq := []string{"0.0011", "0.0010", "0.0012", "0.00115", "0.0013"}
	for _, p := range seq {
		h.prices.snaps = append(h.prices.snaps, priceSnap(p))
	}
	h.bal.snap = domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: big.NewInt(0)}

	prev := h.ctrl.State().AnchorPriceUSD
	for i := range seq {
		if err := h.ctrl.Tick(context.Background()); err != nil {
			t.Fatalf("Tick %d returned error: %v", i, err)
		}
		cur := h.ctrl.State().AnchorPriceUSD
		if cur.LessThan(prev) {
			t.Fatalf("anchor decreased while flat: %s -> %s", prev, cur)
		}
		prev = cur
	}
	if len(h.swapper.calls) != 0 {
		t.Fatal("no trade expected in ratchet-only sequence")
	}
	if !prev.Equal(dec("0.0013")) {
		t.Fatalf("final anchor=%s, expected 0.0013", prev)
	}
}

func TestPendingSwapDoesNotMutateState(t *testing.T) {
	initial := domain.ControllerState{
		Holding:        true,
		EntryPriceUSD:  dec("0.0009"),
		AnchorPriceUSD: dec("0.0010"),
		LastAction:     domain.ActionBought,
	}
	h := newHarness(t, &initial)
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("0.0010")}
	h.bal.snap = domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: tokens(10)}
	h.swapper.err = fmt.Errorf("swap: tx 0xdead: %w", domain.ErrPending)

	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if !h.ctrl.State().Equal(initial) {
		t.Fatal("pending swap mutated state")
	}
	if h.store.saves != 0 {
		t.Fatal("pending swap persisted state")
	}
	if h.bal.invalidates == 0 {
		t.Fatal("pending swap must invalidate the balance cache")
	}
}

func TestBuySkippedWhenNothingSpendable(t *testing.T) {
	initial := domain.NewControllerState(dec("0.0010"))
	h := newHarness(t, &initial)
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("0.0009")}
	// Native balance below the reserve: spendable is negative.
	h.bal.snap = domain.BalanceSnapshot{NativeWei: big.NewInt(5e14), TokenRaw: big.NewInt(0)}

	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if len(h.swapper.calls) != 0 {
		t.Fatal("buy must be skipped when spendable <= 0")
	}
	if !h.ctrl.State().Equal(initial) {
		t.Fatal("skipped buy mutated state")
	}
}

func TestBudgetCapsBuySize(t *testing.T) {
	initial := domain.NewControllerState(dec("0.0010"))
	h := newHarness(t, &initial)
	h.ctrl.cfg.BudgetUSD = dec("20") // $20 at $2000/native = 0.01 native
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("0.0009")}
	h.bal.snap = domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: big.NewInt(0)}

	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if len(h.swapper.calls) != 1 {
		t.Fatalf("calls=%d, expected one buy", len(h.swapper.calls))
	}
	want := big.NewInt(1e16) // 0.01 native in wei
	if h.swapper.calls[0].amountIn.Cmp(want) != 0 {
		t.Fatalf("amountIn=%s, expected budget-capped %s", h.swapper.calls[0].amountIn, want)
	}
}

func TestSellAllLiquidatesUnconditionally(t *testing.T) {
	initial := domain.ControllerState{
		Holding:        true,
		EntryPriceUSD:  dec("0.0009"),
		AnchorPriceUSD: dec("0.0010"),
		LastAction:     domain.ActionBought,
	}
	h := newHarness(t, &initial)
	// Price below the sell threshold: reactive mode would hold.
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("0.00085")}
	h.bal.snap = domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: tokens(42)}

	if err := h.ctrl.SellAll(context.Background()); err != nil {
		t.Fatalf("SellAll returned error: %v", err)
	}

	if len(h.swapper.calls) != 1 || h.swapper.calls[0].dir != domain.TokenToNative {
		t.Fatalf("calls=%+v, expected one sell", h.swapper.calls)
	}
	st := h.ctrl.State()
	if st.Holding {
		t.Fatal("expected flat after sell-all")
	}
	if !st.AnchorPriceUSD.Equal(dec("0.00085")) {
		t.Fatalf("anchor=%s, expected sale price", st.AnchorPriceUSD)
	}
}

// ---------------------------------------------------------------------------
// Swing and burst
// ---------------------------------------------------------------------------

func TestSwingSellsExcessAboveBand(t *testing.T) {
	initial := domain.NewControllerState(dec("1.00"))
	h := newHarness(t, &initial)
	swing := NewSwing(h.ctrl, SwingConfig{
		TargetTokenShare: dec("0.5"),
		BandPct:          dec("0.05"),
		SlicePct:         dec("1"), // trade the whole imbalance for easy math
	})

	// Token $1, native $2000. 1500 tokens = $1500, 0.25 native = $500.
	// Share = 0.75, above 0.55: sell (0.75-0.5)*2000*1 = $500 worth.
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("1.00")}
	h.bal.snap = domain.BalanceSnapshot{
		NativeWei: big.NewInt(25e16),
		TokenRaw:  tokens(1500),
	}

	if err := swing.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if len(h.swapper.calls) != 1 || h.swapper.calls[0].dir != domain.TokenToNative {
		t.Fatalf("calls=%+v, expected one sell", h.swapper.calls)
	}
	if h.swapper.calls[0].amountIn.Cmp(tokens(500)) != 0 {
		t.Fatalf("amountIn=%s, expected 500 tokens", h.swapper.calls[0].amountIn)
	}
}

func TestSwingHoldsWithinBand(t *testing.T) {
	initial := domain.NewControllerState(dec("1.00"))
	h := newHarness(t, &initial)
	swing := NewSwing(h.ctrl, SwingConfig{
		TargetTokenShare: dec("0.5"),
		BandPct:          dec("0.05"),
		SlicePct:         dec("0.5"),
	})

	// 1000 tokens = $1000, 0.5 native = $1000: share exactly 0.5.
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("1.00")}
	h.bal.snap = domain.BalanceSnapshot{
		NativeWei: big.NewInt(5e17),
		TokenRaw:  tokens(1000),
	}

	if err := swing.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if len(h.swapper.calls) != 0 {
		t.Fatalf("in-band portfolio traded: %+v", h.swapper.calls)
	}
}

func TestSwingBuysShortfallBelowBand(t *testing.T) {
	initial := domain.NewControllerState(dec("1.00"))
	h := newHarness(t, &initial)
	swing := NewSwing(h.ctrl, SwingConfig{
		TargetTokenShare: dec("0.5"),
		BandPct:          dec("0.05"),
		SlicePct:         dec("1"),
	})

	// 500 tokens = $500, 0.75 native = $1500. Share = 0.25, below 0.45:
	// buy (0.5-0.25)*2000*1 = $500 worth = 0.25 native.
	h.prices.snaps = []domain.PriceSnapshot{priceSnap("1.00")}
	h.bal.snap = domain.BalanceSnapshot{
		NativeWei: big.NewInt(75e16),
		TokenRaw:  tokens(500),
	}

	if err := swing.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if len(h.swapper.calls) != 1 || h.swapper.calls[0].dir != domain.NativeToToken {
		t.Fatalf("calls=%+v, expected one buy", h.swapper.calls)
	}
	if want := big.NewInt(25e16); h.swapper.calls[0].amountIn.Cmp(want) != 0 {
		t.Fatalf("amountIn=%s, expected %s", h.swapper.calls[0].amountIn, want)
	}

	st := h.ctrl.State()
	if !st.Holding {
		t.Fatal("expected holding after rebalance buy")
	}
	if !st.EntryPriceUSD.Equal(dec("1.00")) {
		t.Fatalf("entry=%s, expected buy price", st.EntryPriceUSD)
	}
	if len(h.actions.records) != 1 || h.actions.records[0].Kind != domain.ActionKindBuy {
		t.Fatalf("records=%+v, expected one buy action", h.actions.records)
	}
}

func TestBurstStopsAfterMaxCycles(t *testing.T) {
	initial := domain.NewControllerState(dec("0.0010"))
	h := newHarness(t, &initial)
	h.ctrl.cfg.TickInterval = time.Millisecond

	// Completed cycles are detected by a sell stamping a later LastActionAt,
	// so the clock must move between actions.
	var clock int64
	h.ctrl.now = func() time.Time {
		clock++
		return time.Unix(1_700_000_000+clock, 0)
	}

	// Two full round trips: each buy drops 10% from the anchor, each sell
	// gains 10% over the entry, and a sell resets the anchor to its price.
	h.prices.snaps = []domain.PriceSnapshot{
		priceSnap("0.0009"),    // buy
		priceSnap("0.00099"),   // sell, cycle 1
		priceSnap("0.000891"),  // buy
		priceSnap("0.0009801"), // sell, cycle 2
	}
	nativeRich := domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: big.NewInt(0)}
	tokenRich := domain.BalanceSnapshot{NativeWei: oneNative(), TokenRaw: tokens(100)}
	h.bal.snaps = []domain.BalanceSnapshot{nativeRich, tokenRich, nativeRich, tokenRich}

	burst := NewBurst(h.ctrl, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := burst.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("burst ran past its cycle budget until the deadline")
	}

	wantDirs := []domain.Direction{
		domain.NativeToToken, domain.TokenToNative,
		domain.NativeToToken, domain.TokenToNative,
	}
	if len(h.swapper.calls) != len(wantDirs) {
		t.Fatalf("calls=%d, expected buy/sell/buy/sell", len(h.swapper.calls))
	}
	for i, call := range h.swapper.calls {
		if call.dir != wantDirs[i] {
			t.Fatalf("call %d dir=%s, expected %s", i, call.dir, wantDirs[i])
		}
	}
	if h.ctrl.State().Holding {
		t.Fatal("expected flat after the final sell")
	}
}
