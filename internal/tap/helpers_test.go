package tap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kjannette/tethra-tap/internal/external"
	"github.com/kjannette/tethra-tap/internal/grid"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/shopspring/decimal"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000ca11e")

type testWallet struct {
	key *ecdsa.PrivateKey

	mu       sync.Mutex
	calls    int
	failFrom int // 1-based call that starts failing, 0 = never
}

func newTestWallet(t *testing.T) *testWallet {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return &testWallet{key: k}
}

func (w *testWallet) Address() common.Address { return crypto.PubkeyToAddress(w.key.PublicKey) }

func (w *testWallet) PersonalSign(_ context.Context, msg []byte) ([]byte, error) {
	w.mu.Lock()
	w.calls++
	n := w.calls
	w.mu.Unlock()
	if w.failFrom > 0 && n >= w.failFrom {
		return nil, errors.New("user rejected request")
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), w.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func (w *testWallet) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// staticNonces always reports the same chain nonce, like a counter that has
// not advanced between reads.
type staticNonces struct {
	value int64
	err   error

	mu    sync.Mutex
	reads int
}

func (n *staticNonces) MetaNonce(context.Context, common.Address) (*big.Int, error) {
	n.mu.Lock()
	n.reads++
	n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	return big.NewInt(n.value), nil
}

type fakeBackend struct {
	mu sync.Mutex

	orders    []models.TapToTradeOrder
	listErr   error
	listCalls int

	batchErr   error
	batchKeys  []string
	batchReqs  []external.BatchCreateRequest
	batchReply []models.TapToTradeOrder

	cancelErr   error
	cancelGate  chan struct{}
	cancelOrder []external.CancelOrderRequest
	cancelCell  []external.CancelCellRequest
	cancelGrid  []external.CancelGridRequest

	sessionReply  *models.GridSession
	sessionErr    error
	sessionReqs   []external.CreateSessionRequest
	closeSessions []external.CancelSessionRequest
}

func (f *fakeBackend) setOrders(orders ...models.TapToTradeOrder) {
	f.mu.Lock()
	f.orders = orders
	f.mu.Unlock()
}

func (f *fakeBackend) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) BatchCreate(_ context.Context, key string, req external.BatchCreateRequest) ([]models.TapToTradeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchKeys = append(f.batchKeys, key)
	f.batchReqs = append(f.batchReqs, req)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return f.batchReply, nil
}

func (f *fakeBackend) ListOrders(context.Context, string, models.OrderStatus) ([]models.TapToTradeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.TapToTradeOrder(nil), f.orders...), nil
}

func (f *fakeBackend) CancelOrder(_ context.Context, req external.CancelOrderRequest) error {
	if f.cancelGate != nil {
		<-f.cancelGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelOrder = append(f.cancelOrder, req)
	return f.cancelErr
}

func (f *fakeBackend) CancelCell(_ context.Context, req external.CancelCellRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCell = append(f.cancelCell, req)
	return f.cancelErr
}

func (f *fakeBackend) CancelGrid(_ context.Context, req external.CancelGridRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelGrid = append(f.cancelGrid, req)
	return f.cancelErr
}

func (f *fakeBackend) CreateGridSession(_ context.Context, req external.CreateSessionRequest) (*models.GridSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionReqs = append(f.sessionReqs, req)
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	s := *f.sessionReply
	return &s, nil
}

func (f *fakeBackend) CancelGridSession(_ context.Context, req external.CancelSessionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSessions = append(f.closeSessions, req)
	return nil
}

func testGeometry() grid.Geometry {
	return grid.Geometry{
		ReferencePrice:   decimal.NewFromInt(50000),
		ReferenceTime:    1700000000,
		GridSizeYPercent: 50,
		TimeframeSeconds: 60,
		GridSizeX:        5,
	}
}

// selectCells taps each (x, y) once on a fresh selection.
func selectCells(t *testing.T, taps ...[2]int) *grid.Selection {
	t.Helper()
	m, err := grid.NewMapper(testGeometry(), grid.ZeroRowShort)
	if err != nil {
		t.Fatal(err)
	}
	sel := grid.NewSelection()
	for _, tap := range taps {
		c, err := m.Resolve(tap[0], tap[1])
		if err != nil {
			t.Fatal(err)
		}
		sel.Toggle(c)
	}
	return sel
}

func pendingOrder(id, session, cell string) models.TapToTradeOrder {
	return models.TapToTradeOrder{
		ID:            id,
		GridSessionID: session,
		CellID:        cell,
		Symbol:        "BTC",
		Collateral:    "1000000",
		Leverage:      10,
		TriggerPrice:  "5050000000000",
		Status:        models.OrderPending,
	}
}
