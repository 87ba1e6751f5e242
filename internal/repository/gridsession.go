package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/tethra-tap/internal/models"
)

const gridSessionColumns = `id, trader, symbol, margin_total::text, leverage, timeframe_seconds,
	grid_size_x, grid_size_y_percent, reference_time, reference_price::text, is_active, created_at`

type GridSessionRepo struct {
	pool *pgxpool.Pool
}

func NewGridSessionRepo(pool *pgxpool.Pool) *GridSessionRepo {
	return &GridSessionRepo{pool: pool}
}

// GetActive returns the trader's active session or nil.
func (r *GridSessionRepo) GetActive(ctx context.Context, trader string) (*models.GridSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+gridSessionColumns+` FROM grid_sessions
		 WHERE trader = $1 AND is_active ORDER BY updated_at DESC LIMIT 1`,
		strings.ToLower(trader),
	)
	return noRows(scanGridSession(row))
}

// Save journals gs as the trader's only active session.
func (r *GridSessionRepo) Save(ctx context.Context, gs *models.GridSession) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	trader := strings.ToLower(gs.Trader)
	_, err = tx.Exec(ctx,
		`UPDATE grid_sessions SET is_active = false, updated_at = NOW()
		 WHERE trader = $1 AND is_active AND id <> $2`,
		trader, gs.ID,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO grid_sessions
		 (id, trader, symbol, margin_total, leverage, timeframe_seconds,
		  grid_size_x, grid_size_y_percent, reference_time, reference_price, is_active, updated_at)
		 VALUES ($1,$2,$3,$4::text::numeric,$5,$6,$7,$8,$9,$10::text::numeric,true,NOW())
		 ON CONFLICT (id) DO UPDATE SET is_active = true, updated_at = NOW()`,
		gs.ID, trader, gs.Symbol, gs.MarginTotal, gs.Leverage, gs.TimeframeSeconds,
		gs.GridSizeX, gs.GridSizeYPercent, gs.ReferenceTime, gs.ReferencePrice,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *GridSessionRepo) Deactivate(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE grid_sessions SET is_active = false, updated_at = NOW() WHERE id = $1`,
		id,
	)
	return err
}

func (r *GridSessionRepo) GetHistory(ctx context.Context, trader string, limit int) ([]models.GridSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+gridSessionColumns+` FROM grid_sessions
		 WHERE trader = $1 ORDER BY created_at DESC LIMIT $2`,
		strings.ToLower(trader), clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, scanGridSession)
}

func scanGridSession(row scannable) (*models.GridSession, error) {
	var gs models.GridSession
	err := row.Scan(
		&gs.ID, &gs.Trader, &gs.Symbol, &gs.MarginTotal, &gs.Leverage, &gs.TimeframeSeconds,
		&gs.GridSizeX, &gs.GridSizeYPercent, &gs.ReferenceTime, &gs.ReferencePrice,
		&gs.IsActive, &gs.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &gs, nil
}
