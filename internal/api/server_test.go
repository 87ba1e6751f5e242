package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kjannette/tethra-tap/internal/ethereum"
	"github.com/kjannette/tethra-tap/internal/external"
	"github.com/kjannette/tethra-tap/internal/grid"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/kjannette/tethra-tap/internal/onetap"
	"github.com/kjannette/tethra-tap/internal/session"
	"github.com/kjannette/tethra-tap/internal/signing"
	"github.com/kjannette/tethra-tap/internal/tap"
)

var (
	tapContract    = common.HexToAddress("0x00000000000000000000000000000000000ca11e")
	oneTapContract = common.HexToAddress("0x0000000000000000000000000000000000000b37")
)

type stubPrices struct {
	mu     sync.Mutex
	prices map[string]models.PriceData
}

func (p *stubPrices) Snapshot() map[string]models.PriceData {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]models.PriceData, len(p.prices))
	for k, v := range p.prices {
		out[k] = v
	}
	return out
}

func (p *stubPrices) Latest(symbol string) (models.PriceData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.prices[symbol]
	return d, ok
}

func (p *stubPrices) Connected() bool { return true }

type stubBets struct {
	mu     sync.Mutex
	placed []external.PlaceBetRequest
}

func (b *stubBets) ListBets(context.Context, string) ([]models.Bet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Bet, 0, len(b.placed))
	for i, p := range b.placed {
		out = append(out, betFrom(fmt.Sprintf("bet-%d", i+1), p))
	}
	return out, nil
}

func (b *stubBets) GetBet(_ context.Context, id string) (*models.Bet, error) {
	return nil, &external.APIError{Status: http.StatusNotFound, Path: "/api/one-tap/bet/" + id}
}

func (b *stubBets) PlaceBetWithSession(_ context.Context, req external.PlaceBetRequest) (*models.Bet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placed = append(b.placed, req)
	bet := betFrom(fmt.Sprintf("bet-%d", len(b.placed)), req)
	return &bet, nil
}

func (b *stubBets) CalculateMultiplier(_ context.Context, req external.MultiplierRequest) (uint64, error) {
	return 0, nil
}

func betFrom(id string, req external.PlaceBetRequest) models.Bet {
	return models.Bet{
		ID:          id,
		Trader:      req.Trader,
		Symbol:      req.Symbol,
		BetAmount:   req.BetAmount,
		TargetPrice: req.TargetPrice,
		TargetTime:  req.TargetTime,
		EntryPrice:  req.EntryPrice,
		EntryTime:   req.EntryTime,
		Status:      models.BetActive,
	}
}

type testRig struct {
	srv    *Server
	wallet *ethereum.KeyWallet
	relay  *tap.PaperRelay
	bets   *stubBets
	now    int64
}

func newTestRig(t *testing.T, apiKey string) *testRig {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	wallet, err := ethereum.NewKeyWallet(hexutil.Encode(crypto.FromECDSA(key)), nil)
	if err != nil {
		t.Fatal(err)
	}

	log := logger.Discard()
	sessions := session.NewManager(session.NewMemoryStore(), log)
	relay := tap.NewPaperRelay(tapContract, log)
	bets := &stubBets{}
	prices := &stubPrices{prices: map[string]models.PriceData{"BTC": {Price: 50000}}}

	tapSvc := tap.NewService(tap.ServiceConfig{
		Trader:     wallet.Address(),
		Contract:   tapContract,
		SidePolicy: grid.ZeroRowShort,
		OrderPoll:  time.Hour,
	}, tap.Deps{
		Backend:  relay,
		Signers:  signing.NewOrderSigner(sessions, wallet, relay),
		Nonces:   relay,
		Sessions: sessions,
	}, log)

	oneTap := onetap.NewService(onetap.ServiceConfig{
		Trader:   wallet.Address(),
		Contract: oneTapContract,
		BetPoll:  time.Hour,
	}, onetap.Deps{
		Backend:  bets,
		Sessions: sessions,
		Nonces:   relay,
		Prices:   prices,
	}, log)

	srv := NewServer(Deps{
		Tap:             tapSvc,
		OneTap:          oneTap,
		Sessions:        sessions,
		Wallet:          wallet,
		SessionDuration: 30 * time.Minute,
		Prices:          prices,
		Paper:           relay,
	}, 0, apiKey, "*", log)

	return &testRig{srv: srv, wallet: wallet, relay: relay, bets: bets, now: time.Now().Unix()}
}

func (rig *testRig) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	rig.srv.Handler().ServeHTTP(rr, req)
	if out != nil && rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return rr.Code
}

func (rig *testRig) enableGrid(t *testing.T) models.GridSession {
	t.Helper()
	var resp gridSessionResponse
	code := rig.do(t, http.MethodPost, "/v1/grid/enable", map[string]any{
		"symbol":           "btc",
		"marginTotal":      90000000,
		"leverage":         10,
		"timeframeSeconds": 60,
		"gridSizeX":        5,
		"gridSizeYPercent": 50,
		"referencePrice":   "50000",
		"referenceTime":    rig.now,
	}, &resp)
	if code != http.StatusCreated || resp.Session == nil {
		t.Fatalf("enable: %d %+v", code, resp)
	}
	return *resp.Session
}

func TestServer_TapFlow(t *testing.T) {
	rig := newTestRig(t, "")

	var cell models.ClickedCell
	if code := rig.do(t, http.MethodPost, "/v1/cells/toggle", map[string]int{"cellX": 3, "cellY": 2}, nil); code != http.StatusConflict {
		t.Fatalf("toggle without grid session: %d", code)
	}

	sess := rig.enableGrid(t)
	if sess.Symbol != "BTC" || sess.ReferencePrice != "5000000000000" {
		t.Fatalf("session = %+v", sess)
	}
	if code := rig.do(t, http.MethodPost, "/v1/grid/enable", map[string]any{
		"symbol": "btc", "marginTotal": 1, "leverage": 1, "timeframeSeconds": 60,
		"gridSizeX": 1, "gridSizeYPercent": 1, "referencePrice": "1", "referenceTime": rig.now,
	}, nil); code != http.StatusConflict {
		t.Fatalf("second enable: %d", code)
	}

	if code := rig.do(t, http.MethodPost, "/v1/cells/toggle", map[string]int{"cellX": 3, "cellY": 2}, &cell); code != http.StatusOK {
		t.Fatalf("toggle: %d", code)
	}
	if cell.TriggerPrice != "5050000000000" || !cell.IsLong || cell.StartTime != rig.now+180 {
		t.Fatalf("cell = %+v", cell)
	}
	rig.do(t, http.MethodPost, "/v1/cells/toggle", map[string]int{"cellX": 3, "cellY": 2}, nil)
	rig.do(t, http.MethodPost, "/v1/cells/toggle", map[string]int{"cellX": 4, "cellY": -1}, nil)

	var cells cellsResponse
	rig.do(t, http.MethodGet, "/v1/cells", nil, &cells)
	if cells.Stats.Cells != 2 || cells.Stats.TotalClicks != 3 || cells.Stats.ShortOrders != 1 {
		t.Fatalf("stats = %+v", cells.Stats)
	}
	if code := rig.do(t, http.MethodPost, "/v1/cells/toggle", map[string]int{"cellX": 1}, nil); code != http.StatusBadRequest {
		t.Fatalf("incomplete toggle: %d", code)
	}

	var batch struct {
		Orders             []models.TapToTradeOrder `json:"orders"`
		CollateralPerOrder json.Number              `json:"collateralPerOrder"`
		SignerKind         string                   `json:"signerKind"`
	}
	if code := rig.do(t, http.MethodPost, "/v1/orders/submit", nil, &batch); code != http.StatusCreated {
		t.Fatalf("submit: %d", code)
	}
	if len(batch.Orders) != 3 || batch.CollateralPerOrder.String() != "30000000" || batch.SignerKind != string(signing.KindWallet) {
		t.Fatalf("batch = %+v", batch)
	}
	if code := rig.do(t, http.MethodPost, "/v1/orders/submit", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("empty submit: %d", code)
	}

	var orders ordersResponse
	rig.do(t, http.MethodGet, "/v1/orders?status=PENDING", nil, &orders)
	if len(orders.Orders) != 3 {
		t.Fatalf("orders = %d", len(orders.Orders))
	}
	if code := rig.do(t, http.MethodGet, "/v1/orders?status=NOPE", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad status filter: %d", code)
	}

	short := ""
	for _, v := range orders.Orders {
		if !v.Order.IsLong {
			short = v.Order.ID
		}
	}
	if code := rig.do(t, http.MethodPost, "/v1/orders/"+short+"/cancel", nil, nil); code != http.StatusNoContent {
		t.Fatalf("cancel: %d", code)
	}
	if code := rig.do(t, http.MethodPost, "/v1/orders/"+short+"/cancel", nil, nil); code != http.StatusConflict {
		t.Fatalf("cancel twice: %d", code)
	}
	if code := rig.do(t, http.MethodPost, "/v1/orders/unknown/cancel", nil, nil); code != http.StatusNotFound {
		t.Fatalf("cancel unknown: %d", code)
	}

	if code := rig.do(t, http.MethodPost, "/v1/orders/cancel-cell", map[string]int{"cellX": 3, "cellY": 2}, nil); code != http.StatusNoContent {
		t.Fatalf("cancel cell: %d", code)
	}
	rig.do(t, http.MethodGet, "/v1/orders?status=CANCELLED", nil, &orders)
	if len(orders.Orders) != 3 {
		t.Fatalf("cancelled = %d", len(orders.Orders))
	}

	if code := rig.do(t, http.MethodPost, "/v1/grid/disable", nil, nil); code != http.StatusOK {
		t.Fatalf("disable: %d", code)
	}
	var gs gridSessionResponse
	rig.do(t, http.MethodGet, "/v1/grid/session", nil, &gs)
	if gs.Active {
		t.Fatal("grid session still active")
	}
}

func TestServer_SessionAndBets(t *testing.T) {
	rig := newTestRig(t, "")
	target := rig.now + 60
	bet := map[string]any{"symbol": "BTC", "betAmount": 5000000, "targetPrice": "50500", "targetTime": target}

	if code := rig.do(t, http.MethodPost, "/v1/bets", bet, nil); code != http.StatusUnauthorized {
		t.Fatalf("bet without session: %d", code)
	}

	var created sessionResponse
	if code := rig.do(t, http.MethodPost, "/v1/session", map[string]int{"durationMinutes": 10}, &created); code != http.StatusCreated {
		t.Fatalf("create session: %d", code)
	}
	if !created.Active || created.Session.PrivateKey != "" || created.ExpiresIn < 590 {
		t.Fatalf("session = %+v", created)
	}

	var placed onetap.BetView
	if code := rig.do(t, http.MethodPost, "/v1/bets", bet, &placed); code != http.StatusCreated {
		t.Fatalf("place bet: %d", code)
	}
	if placed.EntryPrice != "5000000000000" || placed.Computed < onetap.BaseMultiplier {
		t.Fatalf("bet = %+v", placed)
	}
	if got := rig.bets.placed[0].Session.SessionKey; got != created.Session.Address {
		t.Fatalf("bet authorized by %s, want %s", got, created.Session.Address)
	}

	var active []onetap.BetView
	rig.do(t, http.MethodGet, "/v1/bets", nil, &active)
	if len(active) != 1 {
		t.Fatalf("active = %d", len(active))
	}

	var m multiplierResponse
	path := "/v1/multiplier?entryPrice=50000&targetPrice=50500&entryTime=1000&targetTime=1060"
	if code := rig.do(t, http.MethodGet, path, nil, &m); code != http.StatusOK {
		t.Fatalf("multiplier: %d", code)
	}
	if m.Multiplier != 410 || m.Display != "4.10x" {
		t.Fatalf("multiplier = %+v", m)
	}
	if code := rig.do(t, http.MethodGet, "/v1/multiplier?symbol=DOGE&targetPrice=1&targetTime=1", nil, nil); code != http.StatusNotFound {
		t.Fatalf("multiplier without price: %d", code)
	}

	if code := rig.do(t, http.MethodDelete, "/v1/session", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete session: %d", code)
	}
	var got sessionResponse
	rig.do(t, http.MethodGet, "/v1/session", nil, &got)
	if got.Active {
		t.Fatal("session still active")
	}
}

func TestServer_HealthAndPrices(t *testing.T) {
	rig := newTestRig(t, "secret")

	var h healthResponse
	if code := rig.do(t, http.MethodGet, "/health", nil, &h); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if h.Services.Database != "disabled" || h.Services.PriceFeed != "connected" || !h.Services.DryRun {
		t.Fatalf("health = %+v", h)
	}

	if code := rig.do(t, http.MethodGet, "/v1/prices/latest", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("prices without key: %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/prices/latest?symbol=btc", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	rig.srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("prices: %d, request id %q", rr.Code, rr.Header().Get("X-Request-ID"))
	}
	var pd models.PriceData
	if err := json.Unmarshal(rr.Body.Bytes(), &pd); err != nil || pd.Price != 50000 {
		t.Fatalf("price = %+v (%v)", pd, err)
	}
}
