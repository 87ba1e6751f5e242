package external

import (
	"context"
	"net/url"

	"github.com/kjannette/tethra-tap/internal/models"
)

// OrderPayload is one signed order inside a batch-create call.
type OrderPayload struct {
	CellID       string                       `json:"cellId"`
	Trader       string                       `json:"trader"`
	Symbol       string                       `json:"symbol"`
	IsLong       bool                         `json:"isLong"`
	Collateral   string                       `json:"collateral"`
	Leverage     int64                        `json:"leverage"`
	TriggerPrice string                       `json:"triggerPrice"`
	StartTime    int64                        `json:"startTime"`
	EndTime      int64                        `json:"endTime"`
	Nonce        string                       `json:"nonce"`
	Signature    string                       `json:"signature"`
	Signer       string                       `json:"signer"`
	Session      *models.SessionAuthorization `json:"session,omitempty"`
}

type BatchCreateRequest struct {
	GridSessionID string         `json:"gridSessionId"`
	Orders        []OrderPayload `json:"orders"`
}

type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
	Trader  string `json:"trader"`
}

type CancelCellRequest struct {
	GridSessionID string `json:"gridSessionId"`
	CellID        string `json:"cellId"`
	Trader        string `json:"trader"`
}

type CancelGridRequest struct {
	GridSessionID string `json:"gridSessionId"`
	Trader        string `json:"trader"`
}

// BatchCreate submits a signed batch. idempotencyKey makes a retried
// request safe to replay.
func (b *Backend) BatchCreate(ctx context.Context, idempotencyKey string, req BatchCreateRequest) ([]models.TapToTradeOrder, error) {
	var orders []models.TapToTradeOrder
	if err := b.post(ctx, "/api/tap-to-trade/batch-create", idempotencyKey, req, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListOrders returns the trader's orders, optionally filtered by status.
func (b *Backend) ListOrders(ctx context.Context, trader string, status models.OrderStatus) ([]models.TapToTradeOrder, error) {
	q := url.Values{"trader": {trader}}
	if status != "" {
		q.Set("status", string(status))
	}
	var orders []models.TapToTradeOrder
	if err := b.get(ctx, "/api/tap-to-trade/orders", q, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (b *Backend) CancelOrder(ctx context.Context, req CancelOrderRequest) error {
	return b.post(ctx, "/api/tap-to-trade/cancel-order", "", req, nil)
}

func (b *Backend) CancelCell(ctx context.Context, req CancelCellRequest) error {
	return b.post(ctx, "/api/tap-to-trade/cancel-cell", "", req, nil)
}

func (b *Backend) CancelGrid(ctx context.Context, req CancelGridRequest) error {
	return b.post(ctx, "/api/tap-to-trade/cancel-grid", "", req, nil)
}
