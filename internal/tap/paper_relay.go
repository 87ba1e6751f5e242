package tap

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/kjannette/tethra-tap/internal/external"
	"github.com/kjannette/tethra-tap/internal/grid"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/kjannette/tethra-tap/internal/session"
	"github.com/kjannette/tethra-tap/internal/signing"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PaperRelay is an in-process stand-in for the tap-to-trade backend used in
// dry-run mode. It verifies signatures and nonces the way the executor
// contract would, and fills PENDING orders from the live price stream.
type PaperRelay struct {
	contract common.Address
	log      *logrus.Entry
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*models.GridSession
	orders   map[string]*models.TapToTradeOrder
	batches  map[string][]string
	nonces   map[common.Address]*big.Int
	fills    []PaperFill
}

// PaperFill is one simulated execution.
type PaperFill struct {
	OrderID      string    `json:"orderId"`
	Symbol       string    `json:"symbol"`
	IsLong       bool      `json:"isLong"`
	Collateral   string    `json:"collateral"`
	Leverage     int64     `json:"leverage"`
	TriggerPrice string    `json:"triggerPrice"`
	FillPrice    string    `json:"fillPrice"`
	TxHash       string    `json:"txHash"`
	FilledAt     time.Time `json:"filledAt"`
}

type PaperStats struct {
	Orders          int    `json:"orders"`
	Pending         int    `json:"pending"`
	Executed        int    `json:"executed"`
	Cancelled       int    `json:"cancelled"`
	Expired         int    `json:"expired"`
	FilledNotional  string `json:"filledNotional"`
	CollateralInUse string `json:"collateralInUse"`
}

func NewPaperRelay(contract common.Address, log *logger.Logger) *PaperRelay {
	return &PaperRelay{
		contract: contract,
		log:      log.WithComponent("paper-relay"),
		now:      time.Now,
		sessions: make(map[string]*models.GridSession),
		orders:   make(map[string]*models.TapToTradeOrder),
		batches:  make(map[string][]string),
		nonces:   make(map[common.Address]*big.Int),
	}
}

// SetClock replaces the relay's time source.
func (r *PaperRelay) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func relayError(status int, path, format string, args ...interface{}) error {
	return &external.APIError{Status: status, Path: path, Message: fmt.Sprintf(format, args...)}
}

// MetaNonce returns the next nonce the relay will accept for trader.
func (r *PaperRelay) MetaNonce(_ context.Context, trader common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nonces[trader]; ok {
		return new(big.Int).Set(n), nil
	}
	return new(big.Int), nil
}

func (r *PaperRelay) CreateGridSession(_ context.Context, req external.CreateSessionRequest) (*models.GridSession, error) {
	const path = "/api/grid/create-session"
	if !common.IsHexAddress(req.Trader) {
		return nil, relayError(http.StatusBadRequest, path, "invalid trader")
	}
	if _, err := grid.ParseFixed(req.ReferencePrice, grid.PriceDecimals); err != nil {
		return nil, relayError(http.StatusBadRequest, path, "invalid reference price")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	trader := strings.ToLower(req.Trader)
	for _, s := range r.sessions {
		if s.Trader == trader {
			s.IsActive = false
		}
	}
	s := &models.GridSession{
		ID:               uuid.NewString(),
		Trader:           trader,
		Symbol:           strings.ToUpper(req.Symbol),
		MarginTotal:      req.MarginTotal,
		Leverage:         req.Leverage,
		TimeframeSeconds: req.TimeframeSeconds,
		GridSizeX:        req.GridSizeX,
		GridSizeYPercent: req.GridSizeYPercent,
		ReferenceTime:    req.ReferenceTime,
		ReferencePrice:   req.ReferencePrice,
		IsActive:         true,
		CreatedAt:        r.now().UTC(),
	}
	r.sessions[s.ID] = s
	out := *s
	return &out, nil
}

func (r *PaperRelay) CancelGridSession(_ context.Context, req external.CancelSessionRequest) error {
	const path = "/api/grid/cancel-session"
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[req.GridSessionID]
	if !ok {
		return relayError(http.StatusNotFound, path, "grid session not found")
	}
	if !strings.EqualFold(s.Trader, req.Trader) {
		return relayError(http.StatusForbidden, path, "not your session")
	}
	s.IsActive = false
	r.cancelLocked(func(o *models.TapToTradeOrder) bool { return o.GridSessionID == s.ID })
	return nil
}

// BatchCreate accepts the whole batch or none of it. Replaying an
// idempotency key returns the orders created the first time.
func (r *PaperRelay) BatchCreate(_ context.Context, idempotencyKey string, req external.BatchCreateRequest) ([]models.TapToTradeOrder, error) {
	const path = "/api/tap-to-trade/batch-create"
	r.mu.Lock()
	defer r.mu.Unlock()

	if ids, ok := r.batches[idempotencyKey]; ok && idempotencyKey != "" {
		return r.copiesLocked(ids), nil
	}
	s, ok := r.sessions[req.GridSessionID]
	if !ok || !s.IsActive {
		return nil, relayError(http.StatusBadRequest, path, "grid session is not active")
	}
	if len(req.Orders) == 0 {
		return nil, relayError(http.StatusBadRequest, path, "no orders")
	}

	expected := make(map[common.Address]*big.Int)
	for i, p := range req.Orders {
		trader, nonce, err := r.verifyLocked(s, p)
		if err != nil {
			return nil, relayError(http.StatusBadRequest, path, "order %d: %v", i, err)
		}
		want, ok := expected[trader]
		if !ok {
			want = new(big.Int)
			if n, seen := r.nonces[trader]; seen {
				want.Set(n)
			}
			expected[trader] = want
		}
		if nonce.Cmp(want) != 0 {
			return nil, relayError(http.StatusBadRequest, path, "order %d: nonce %s, expected %s", i, nonce, want)
		}
		want.Add(want, big.NewInt(1))
	}

	now := r.now().UTC()
	ids := make([]string, 0, len(req.Orders))
	for _, p := range req.Orders {
		o := &models.TapToTradeOrder{
			ID:            uuid.NewString(),
			GridSessionID: s.ID,
			CellID:        p.CellID,
			Trader:        strings.ToLower(p.Trader),
			Symbol:        strings.ToUpper(p.Symbol),
			IsLong:        p.IsLong,
			Collateral:    p.Collateral,
			Leverage:      p.Leverage,
			TriggerPrice:  p.TriggerPrice,
			StartTime:     p.StartTime,
			EndTime:       p.EndTime,
			Nonce:         p.Nonce,
			Signature:     p.Signature,
			Status:        models.OrderPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		r.orders[o.ID] = o
		ids = append(ids, o.ID)
	}
	for trader, next := range expected {
		r.nonces[trader] = next
	}
	if idempotencyKey != "" {
		r.batches[idempotencyKey] = ids
	}
	r.log.WithFields(logrus.Fields{"session": s.ID, "orders": len(ids)}).Info("Paper batch accepted")
	return r.copiesLocked(ids), nil
}

// verifyLocked checks that p was signed by its trader or by a session key
// the trader authorized.
func (r *PaperRelay) verifyLocked(s *models.GridSession, p external.OrderPayload) (common.Address, *big.Int, error) {
	if !common.IsHexAddress(p.Trader) || !strings.EqualFold(p.Trader, s.Trader) {
		return common.Address{}, nil, fmt.Errorf("trader does not own the session")
	}
	trader := common.HexToAddress(p.Trader)
	collateral, ok1 := new(big.Int).SetString(p.Collateral, 10)
	nonce, ok2 := new(big.Int).SetString(p.Nonce, 10)
	if !ok1 || !ok2 || collateral.Sign() <= 0 {
		return common.Address{}, nil, fmt.Errorf("bad collateral or nonce")
	}
	if _, err := grid.ParseFixed(p.TriggerPrice, grid.PriceDecimals); err != nil {
		return common.Address{}, nil, fmt.Errorf("bad trigger price: %w", err)
	}
	hash, err := signing.OrderHash(trader, p.Symbol, p.IsLong, collateral, big.NewInt(p.Leverage), nonce, r.contract)
	if err != nil {
		return common.Address{}, nil, err
	}
	sig, err := hexutil.Decode(p.Signature)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("bad signature: %w", err)
	}
	signer, err := session.RecoverPersonal(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("recover signer: %w", err)
	}
	if signer == trader {
		return trader, nonce, nil
	}

	auth := p.Session
	if auth == nil || !strings.EqualFold(auth.SessionKey, signer.Hex()) {
		return common.Address{}, nil, fmt.Errorf("signer %s is not authorized", signer.Hex())
	}
	if r.now().UnixMilli() >= auth.ExpiresAt {
		return common.Address{}, nil, fmt.Errorf("session key expired")
	}
	authorizer, err := session.VerifyAuthorization(&models.SessionKey{
		Address:       auth.SessionKey,
		ExpiresAt:     auth.ExpiresAt,
		AuthorizedBy:  auth.AuthorizedBy,
		AuthSignature: auth.AuthSignature,
	})
	if err != nil || authorizer != trader {
		return common.Address{}, nil, fmt.Errorf("session key was not authorized by trader")
	}
	return trader, nonce, nil
}

func (r *PaperRelay) ListOrders(_ context.Context, trader string, status models.OrderStatus) ([]models.TapToTradeOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()

	var out []models.TapToTradeOrder
	for _, o := range r.orders {
		if !strings.EqualFold(o.Trader, trader) {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *PaperRelay) CancelOrder(_ context.Context, req external.CancelOrderRequest) error {
	const path = "/api/tap-to-trade/cancel-order"
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	o, ok := r.orders[req.OrderID]
	if !ok {
		return relayError(http.StatusNotFound, path, "order not found")
	}
	if !strings.EqualFold(o.Trader, req.Trader) {
		return relayError(http.StatusForbidden, path, "not your order")
	}
	if o.Status != models.OrderPending {
		return relayError(http.StatusBadRequest, path, "order is %s", o.Status)
	}
	r.setStatusLocked(o, models.OrderCancelled)
	return nil
}

func (r *PaperRelay) CancelCell(_ context.Context, req external.CancelCellRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	r.cancelLocked(func(o *models.TapToTradeOrder) bool {
		return o.GridSessionID == req.GridSessionID && o.CellID == req.CellID && strings.EqualFold(o.Trader, req.Trader)
	})
	return nil
}

func (r *PaperRelay) CancelGrid(_ context.Context, req external.CancelGridRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	r.cancelLocked(func(o *models.TapToTradeOrder) bool {
		return o.GridSessionID == req.GridSessionID && strings.EqualFold(o.Trader, req.Trader)
	})
	return nil
}

func (r *PaperRelay) cancelLocked(match func(*models.TapToTradeOrder) bool) int {
	n := 0
	for _, o := range r.orders {
		if o.Status == models.OrderPending && match(o) {
			r.setStatusLocked(o, models.OrderCancelled)
			n++
		}
	}
	return n
}

func (r *PaperRelay) expireLocked() {
	now := r.now().Unix()
	for _, o := range r.orders {
		if o.Status == models.OrderPending && now > o.EndTime {
			r.setStatusLocked(o, models.OrderExpired)
		}
	}
}

func (r *PaperRelay) setStatusLocked(o *models.TapToTradeOrder, to models.OrderStatus) {
	if !models.CanTransition(o.Status, to) {
		r.log.WithFields(logrus.Fields{"order": o.ID, "from": o.Status, "to": to}).Error("Refusing illegal transition")
		return
	}
	o.Status = to
	o.UpdatedAt = r.now().UTC()
}

// OnPrices fills PENDING orders whose window is open and whose trigger the
// price has reached: at or above for longs, at or below for shorts. It has
// the pricefeed.Listener signature.
func (r *PaperRelay) OnPrices(updates map[string]models.PriceData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()

	now := r.now()
	for _, o := range r.orders {
		if o.Status != models.OrderPending {
			continue
		}
		pd, ok := updates[o.Symbol]
		if !ok || pd.Price <= 0 {
			continue
		}
		if now.Unix() < o.StartTime || now.Unix() > o.EndTime {
			continue
		}
		trigger, err := grid.ParseFixed(o.TriggerPrice, grid.PriceDecimals)
		if err != nil {
			continue
		}
		price := decimal.NewFromFloat(pd.Price)
		if o.IsLong && price.LessThan(trigger) || !o.IsLong && price.GreaterThan(trigger) {
			continue
		}
		r.fillLocked(o, price, now)
	}
}

func (r *PaperRelay) fillLocked(o *models.TapToTradeOrder, price decimal.Decimal, now time.Time) {
	r.setStatusLocked(o, models.OrderExecuting)
	r.setStatusLocked(o, models.OrderExecuted)

	txHash := fmt.Sprintf("0xPAPER_%s_%x", strings.ReplaceAll(o.ID, "-", ""), now.UnixNano())
	at := now.UTC()
	o.ExecutedAt = &at
	o.ExecutedTxHash = &txHash

	fill := PaperFill{
		OrderID:      o.ID,
		Symbol:       o.Symbol,
		IsLong:       o.IsLong,
		Collateral:   o.Collateral,
		Leverage:     o.Leverage,
		TriggerPrice: o.TriggerPrice,
		FillPrice:    grid.FixedPoint8(price),
		TxHash:       txHash,
		FilledAt:     at,
	}
	r.fills = append(r.fills, fill)
	r.log.WithFields(logrus.Fields{
		"order":   o.ID,
		"symbol":  o.Symbol,
		"long":    o.IsLong,
		"trigger": o.TriggerPrice,
		"price":   price.StringFixed(2),
	}).Info("Paper order executed")
}

func (r *PaperRelay) Fills() []PaperFill {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PaperFill(nil), r.fills...)
}

// Stats summarizes relay activity. Notional is collateral times leverage
// over executed orders, in collateral base units.
func (r *PaperRelay) Stats() PaperStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	notional := new(big.Int)
	inUse := new(big.Int)
	var st PaperStats
	for _, o := range r.orders {
		st.Orders++
		c, _ := new(big.Int).SetString(o.Collateral, 10)
		if c == nil {
			c = new(big.Int)
		}
		switch o.Status {
		case models.OrderPending:
			st.Pending++
			inUse.Add(inUse, c)
		case models.OrderExecuted:
			st.Executed++
			inUse.Add(inUse, c)
			notional.Add(notional, new(big.Int).Mul(c, big.NewInt(o.Leverage)))
		case models.OrderCancelled:
			st.Cancelled++
		case models.OrderExpired:
			st.Expired++
		}
	}
	st.FilledNotional = notional.String()
	st.CollateralInUse = inUse.String()
	return st
}

func (r *PaperRelay) copiesLocked(ids []string) []models.TapToTradeOrder {
	out := make([]models.TapToTradeOrder, 0, len(ids))
	for _, id := range ids {
		if o, ok := r.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}
