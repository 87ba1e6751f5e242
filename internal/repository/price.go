package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/tethra-tap/internal/models"
)

type PriceRepo struct {
	pool *pgxpool.Pool
}

func NewPriceRepo(pool *pgxpool.Pool) *PriceRepo {
	return &PriceRepo{pool: pool}
}

// Record journals p and fills in its ID and CreatedAt.
func (r *PriceRepo) Record(ctx context.Context, p *models.PricePoint) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	p.Symbol = strings.ToUpper(p.Symbol)
	return r.pool.QueryRow(ctx,
		`INSERT INTO price_history (symbol, timestamp, price, source)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		p.Symbol, p.Timestamp, p.Price, p.Source,
	).Scan(&p.ID, &p.CreatedAt)
}

// Latest returns the newest journaled price for symbol or nil.
func (r *PriceRepo) Latest(ctx context.Context, symbol string) (*models.PricePoint, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, symbol, timestamp, price, source, created_at FROM price_history
		 WHERE symbol = $1 ORDER BY timestamp DESC LIMIT 1`,
		strings.ToUpper(symbol),
	)
	return noRows(scanPrice(row))
}

func (r *PriceRepo) GetRange(ctx context.Context, symbol string, from, to time.Time) ([]models.PricePoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, symbol, timestamp, price, source, created_at FROM price_history
		 WHERE symbol = $1 AND timestamp >= $2 AND timestamp < $3 ORDER BY timestamp ASC`,
		strings.ToUpper(symbol), from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, scanPrice)
}

func scanPrice(row scannable) (*models.PricePoint, error) {
	var p models.PricePoint
	if err := row.Scan(&p.ID, &p.Symbol, &p.Timestamp, &p.Price, &p.Source, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
