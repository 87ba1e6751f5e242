package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/tethra-tap/internal/models"
)

const orderColumns = `id, grid_session_id, cell_id, trader, symbol, is_long, collateral::text, leverage,
	trigger_price::text, start_time, end_time, nonce::text, status, executed_tx_hash, failure_reason,
	created_at, updated_at`

// OrderRepo journals the backend's view of tap-to-trade orders. Signatures
// are not stored.
type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// Upsert inserts o or refreshes its mutable columns.
func (r *OrderRepo) Upsert(ctx context.Context, o *models.TapToTradeOrder) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tap_orders
		 (id, grid_session_id, cell_id, trader, symbol, is_long, collateral, leverage,
		  trigger_price, start_time, end_time, nonce, status, executed_tx_hash, failure_reason, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7::text::numeric,$8,$9::text::numeric,$10,$11,$12::text::numeric,$13,$14,$15,NOW())
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status,
		     executed_tx_hash = COALESCE(EXCLUDED.executed_tx_hash, tap_orders.executed_tx_hash),
		     failure_reason = COALESCE(EXCLUDED.failure_reason, tap_orders.failure_reason),
		     updated_at = NOW()`,
		o.ID, o.GridSessionID, o.CellID, strings.ToLower(o.Trader), o.Symbol, o.IsLong,
		numericOrZero(o.Collateral), o.Leverage, numericOrZero(o.TriggerPrice),
		o.StartTime, o.EndTime, numericOrZero(o.Nonce), string(o.Status),
		o.ExecutedTxHash, o.FailureReason,
	)
	return err
}

// GetByTrader returns the newest orders first. An empty status matches all.
func (r *OrderRepo) GetByTrader(ctx context.Context, trader string, status models.OrderStatus, limit int) ([]models.TapToTradeOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM tap_orders
		 WHERE trader = $1 AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC LIMIT $3`,
		strings.ToLower(trader), string(status), clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, scanOrder)
}

func scanOrder(row scannable) (*models.TapToTradeOrder, error) {
	var o models.TapToTradeOrder
	var status string
	err := row.Scan(
		&o.ID, &o.GridSessionID, &o.CellID, &o.Trader, &o.Symbol, &o.IsLong, &o.Collateral, &o.Leverage,
		&o.TriggerPrice, &o.StartTime, &o.EndTime, &o.Nonce, &status, &o.ExecutedTxHash, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	return &o, nil
}

func numericOrZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
