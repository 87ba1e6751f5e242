package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/tethra-tap/internal/httputil"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
)

func fastRetry() httputil.RetryConfig {
	return httputil.RetryConfig{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
}

func newTestBackend(t *testing.T, h http.Handler) *Backend {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewBackend(srv.URL, logger.Discard(), WithRetry(fastRetry()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestListOrders_EnvelopeAndQuery(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tap-to-trade/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("trader") != "0xabc" || r.URL.Query().Get("status") != "PENDING" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		writeJSON(w, 200, map[string]interface{}{
			"success": true,
			"data": []map[string]interface{}{
				{"id": "o1", "status": "PENDING", "cellId": "3:2", "collateral": "33000000"},
			},
		})
	}))

	orders, err := b.ListOrders(context.Background(), "0xabc", models.OrderPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].ID != "o1" || orders[0].Status != models.OrderPending {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}

func TestGetBet_NotFound(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 404, map[string]interface{}{"success": false, "error": "Bet not found"})
	}))

	_, err := b.GetBet(context.Background(), "b-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Bet not found" {
		t.Fatalf("expected APIError with server message, got %v", err)
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, 200, []map[string]interface{}{{"betId": "b1", "status": "ACTIVE"}})
	}))

	bets, err := b.ListBets(context.Background(), "0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if len(bets) != 1 || bets[0].ID != "b1" {
		t.Fatalf("unexpected bets: %+v", bets)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestPost_CancelIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := b.CancelOrder(context.Background(), CancelOrderRequest{OrderID: "o1", Trader: "0xabc"})
	if err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 1 {
		t.Fatalf("cancel must be sent once, got %d", hits.Load())
	}
}

func TestBatchCreate_IdempotencyKey(t *testing.T) {
	var hits atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") != "key-1" {
			t.Errorf("missing idempotency key")
		}
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req BatchCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		out := make([]models.TapToTradeOrder, 0, len(req.Orders))
		for i, o := range req.Orders {
			out = append(out, models.TapToTradeOrder{ID: string(rune('a' + i)), CellID: o.CellID, GridSessionID: req.GridSessionID, Status: models.OrderPending})
		}
		writeJSON(w, 201, map[string]interface{}{"success": true, "data": out})
	}))

	orders, err := b.BatchCreate(context.Background(), "key-1", BatchCreateRequest{
		GridSessionID: "g1",
		Orders:        []OrderPayload{{CellID: "1:1"}, {CellID: "1:1"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 || orders[0].GridSessionID != "g1" {
		t.Fatalf("unexpected orders: %+v", orders)
	}
	if hits.Load() != 2 {
		t.Fatalf("idempotent batch should be retried once, got %d hits", hits.Load())
	}
}

func TestSuccessFalseIsAnError(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{"success": false, "error": "Grid session not active"})
	}))
	err := b.CancelGrid(context.Background(), CancelGridRequest{GridSessionID: "g1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Grid session not active" {
		t.Fatalf("expected APIError, got %v", err)
	}
}

func TestCalculateMultiplier(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req MultiplierRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.EntryTime != 1700000000 || req.TargetPrice != "5100000000000" {
			t.Errorf("unexpected request %+v", req)
		}
		writeJSON(w, 200, map[string]interface{}{"success": true, "data": map[string]interface{}{"multiplier": 290}})
	}))
	m, err := b.CalculateMultiplier(context.Background(), MultiplierRequest{
		EntryPrice: "5000000000000", TargetPrice: "5100000000000", EntryTime: 1700000000, TargetTime: 1700000060,
	})
	if err != nil {
		t.Fatal(err)
	}
	if m != 290 {
		t.Fatalf("expected 290, got %d", m)
	}
}

func TestPrices(t *testing.T) {
	var signedHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/price/all", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{"success": true, "data": map[string]interface{}{
			"BTC": map[string]interface{}{"price": 50000.5, "timestamp": 1700000000000, "source": "pyth"},
			"ETH": map[string]interface{}{"price": 2500.25, "timestamp": 1700000000000, "source": "pyth"},
		}})
	})
	mux.HandleFunc("GET /api/price/signed/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		signedHits.Add(1)
		writeJSON(w, 200, map[string]interface{}{"success": true, "data": map[string]interface{}{
			"price": "5000050000000", "timestamp": 1700000000, "signature": "0xsig", "signer": "0xsigner",
		}})
	})
	b := newTestBackend(t, mux)
	clock := time.Unix(1700000000, 0)
	b.now = func() time.Time { return clock }

	prices, err := b.AllPrices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if prices["BTC"].Price != 50000.5 || prices["ETH"].Symbol != "ETH" {
		t.Fatalf("unexpected prices: %+v", prices)
	}

	for i := 0; i < 3; i++ {
		p, err := b.SignedPrice(context.Background(), "btc", false)
		if err != nil {
			t.Fatal(err)
		}
		if p.Symbol != "BTC" || p.Price != "5000050000000" {
			t.Fatalf("unexpected signed price %+v", p)
		}
	}
	if signedHits.Load() != 1 {
		t.Fatalf("expected one fetch within TTL, got %d", signedHits.Load())
	}

	clock = clock.Add(5 * time.Second)
	if _, err := b.SignedPrice(context.Background(), "BTC", false); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SignedPrice(context.Background(), "BTC", true); err != nil {
		t.Fatal(err)
	}
	if signedHits.Load() != 3 {
		t.Fatalf("expected refetch after TTL and on force, got %d", signedHits.Load())
	}
}
