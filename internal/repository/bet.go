package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/tethra-tap/internal/models"
)

const betColumns = `id, trader, symbol, bet_amount::text, target_price::text, target_time,
	entry_price::text, entry_time, multiplier, status, settle_price::text, settled_at, created_at`

type BetRepo struct {
	pool *pgxpool.Pool
}

func NewBetRepo(pool *pgxpool.Pool) *BetRepo {
	return &BetRepo{pool: pool}
}

func (r *BetRepo) Upsert(ctx context.Context, b *models.Bet) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO one_tap_bets
		 (id, trader, symbol, bet_amount, target_price, target_time, entry_price, entry_time,
		  multiplier, status, settle_price, settled_at, updated_at)
		 VALUES ($1,$2,$3,$4::text::numeric,$5::text::numeric,$6,$7::text::numeric,$8,$9,$10,$11::text::numeric,$12,NOW())
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status,
		     settle_price = COALESCE(EXCLUDED.settle_price, one_tap_bets.settle_price),
		     settled_at = COALESCE(EXCLUDED.settled_at, one_tap_bets.settled_at),
		     updated_at = NOW()`,
		b.ID, strings.ToLower(b.Trader), b.Symbol, numericOrZero(b.BetAmount), numericOrZero(b.TargetPrice),
		b.TargetTime, numericOrZero(b.EntryPrice), b.EntryTime, int64(b.Multiplier), string(b.Status),
		b.SettlePrice, b.SettledAt,
	)
	return err
}

// History returns the trader's bets, newest entry first.
func (r *BetRepo) History(ctx context.Context, trader string, limit int) ([]models.Bet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+betColumns+` FROM one_tap_bets
		 WHERE trader = $1 ORDER BY entry_time DESC LIMIT $2`,
		strings.ToLower(trader), clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, scanBet)
}

func scanBet(row scannable) (*models.Bet, error) {
	var b models.Bet
	var status string
	var multiplier int64
	err := row.Scan(
		&b.ID, &b.Trader, &b.Symbol, &b.BetAmount, &b.TargetPrice, &b.TargetTime,
		&b.EntryPrice, &b.EntryTime, &multiplier, &status, &b.SettlePrice, &b.SettledAt, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.BetStatus(status)
	b.Multiplier = uint64(multiplier)
	return &b, nil
}
