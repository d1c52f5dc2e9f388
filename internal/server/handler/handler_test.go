package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maxx-ecosystem/maxxbot/internal/controller"
	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	status controller.Status
	err    error
}

func (f *fakeProvider) Status(ctx context.Context) (controller.Status, error) {
	return f.status, f.err
}

type fakeActionStore struct {
	records   []domain.ActionRecord
	err       error
	lastLimit int
}

func (f *fakeActionStore) Insert(ctx context.Context, rec domain.ActionRecord) error { return nil }

func (f *fakeActionStore) ListRecent(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	f.lastLimit = limit
	return f.records, f.err
}

func (f *fakeActionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ActionRecord, error) {
	return nil, nil
}

func (f *fakeActionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakePriceCache struct {
	price      float64
	observedAt time.Time
	err        error
	lastSymbol string
}

func (f *fakePriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	return nil
}

func (f *fakePriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	f.lastSymbol = symbol
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	return f.price, f.observedAt, nil
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("1.2.3")
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "1.2.3" {
		t.Fatalf("body=%v", body)
	}
}

func TestGetStatusReturnsControllerView(t *testing.T) {
	provider := &fakeProvider{status: controller.Status{
		TokenUSD: decimal.RequireFromString("0.0011"),
	}}
	h := NewStatusHandler(provider, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body struct {
		TokenUSD string `json:"token_usd"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.TokenUSD != "0.0011" {
		t.Fatalf("token_usd=%q", body.TokenUSD)
	}
}

func TestGetStatusUnavailable(t *testing.T) {
	h := NewStatusHandler(&fakeProvider{err: fmt.Errorf("price feed down")}, testLogger())
	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, expected 503", rec.Code)
	}
}

func TestGetPriceServesCachedQuote(t *testing.T) {
	cache := &fakePriceCache{
		price:      0.0011,
		observedAt: time.Unix(1_700_000_000, 0),
	}
	h := NewPriceHandler(cache, "MAXX", testLogger())

	rec := httptest.NewRecorder()
	h.GetPrice(rec, httptest.NewRequest(http.MethodGet, "/api/price", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if cache.lastSymbol != "MAXX" {
		t.Fatalf("symbol=%q, expected MAXX", cache.lastSymbol)
	}
	var body struct {
		Token      string    `json:"token"`
		PriceUSD   float64   `json:"price_usd"`
		ObservedAt time.Time `json:"observed_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Token != "MAXX" || body.PriceUSD != 0.0011 {
		t.Fatalf("body=%+v", body)
	}
	if !body.ObservedAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("observed_at=%s", body.ObservedAt)
	}
}

func TestGetPriceNotObservedYet(t *testing.T) {
	cache := &fakePriceCache{err: fmt.Errorf("redis: price MAXX: %w", domain.ErrNotFound)}
	h := NewPriceHandler(cache, "MAXX", testLogger())

	rec := httptest.NewRecorder()
	h.GetPrice(rec, httptest.NewRequest(http.MethodGet, "/api/price", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, expected 404", rec.Code)
	}
}

func TestGetPriceCacheDown(t *testing.T) {
	cache := &fakePriceCache{err: fmt.Errorf("redis down")}
	h := NewPriceHandler(cache, "MAXX", testLogger())

	rec := httptest.NewRecorder()
	h.GetPrice(rec, httptest.NewRequest(http.MethodGet, "/api/price", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, expected 503", rec.Code)
	}
}

func TestListActionsAppliesLimit(t *testing.T) {
	store := &fakeActionStore{records: []domain.ActionRecord{{ID: "a1"}, {ID: "a2"}}}
	h := NewActionHandler(store, testLogger())

	cases := []struct {
		url       string
		wantLimit int
	}{
		{"/api/actions", 50},
		{"/api/actions?limit=10", 10},
		{"/api/actions?limit=9999", 500},
		{"/api/actions?limit=bogus", 50},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ListActions(rec, httptest.NewRequest(http.MethodGet, tc.url, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status=%d", tc.url, rec.Code)
		}
		if store.lastLimit != tc.wantLimit {
			t.Fatalf("%s: limit=%d, expected %d", tc.url, store.lastLimit, tc.wantLimit)
		}
	}

	var body struct {
		Count   int                   `json:"count"`
		Actions []domain.ActionRecord `json:"actions"`
	}
	rec := httptest.NewRecorder()
	h.ListActions(rec, httptest.NewRequest(http.MethodGet, "/api/actions", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 2 || len(body.Actions) != 2 {
		t.Fatalf("count=%d actions=%d", body.Count, len(body.Actions))
	}
}

func TestListActionsEmptyIsArrayNotNull(t *testing.T) {
	h := NewActionHandler(&fakeActionStore{}, testLogger())
	rec := httptest.NewRecorder()
	h.ListActions(rec, httptest.NewRequest(http.MethodGet, "/api/actions", nil))

	if got := rec.Body.String(); !json.Valid([]byte(got)) || !containsEmptyArray(got) {
		t.Fatalf("body=%s, expected empty actions array", got)
	}
}

func containsEmptyArray(s string) bool {
	var body struct {
		Actions []domain.ActionRecord `json:"actions"`
	}
	if err := json.Unmarshal([]byte(s), &body); err != nil {
		return false
	}
	return body.Actions != nil && len(body.Actions) == 0
}
