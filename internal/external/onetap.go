package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/kjannette/tethra-tap/internal/models"
)

type PlaceBetRequest struct {
	Trader      string                      `json:"trader"`
	Symbol      string                      `json:"symbol"`
	BetAmount   string                      `json:"betAmount"`
	TargetPrice string                      `json:"targetPrice"`
	TargetTime  int64                       `json:"targetTime"`
	EntryPrice  string                      `json:"entryPrice"`
	EntryTime   int64                       `json:"entryTime"`
	Nonce       string                      `json:"nonce"`
	Signature   string                      `json:"signature"`
	Session     models.SessionAuthorization `json:"session"`
}

type MultiplierRequest struct {
	EntryPrice  string `json:"entryPrice"`
	TargetPrice string `json:"targetPrice"`
	EntryTime   int64  `json:"entryTime"`
	TargetTime  int64  `json:"targetTime"`
}

func (b *Backend) ListBets(ctx context.Context, trader string) ([]models.Bet, error) {
	var bets []models.Bet
	if err := b.get(ctx, "/api/one-tap/bets", url.Values{"trader": {trader}}, &bets); err != nil {
		return nil, err
	}
	return bets, nil
}

// GetBet fetches one bet. A missing bet returns an error wrapping ErrNotFound.
func (b *Backend) GetBet(ctx context.Context, id string) (*models.Bet, error) {
	var bet models.Bet
	if err := b.get(ctx, "/api/one-tap/bet/"+url.PathEscape(id), nil, &bet); err != nil {
		return nil, err
	}
	return &bet, nil
}

func (b *Backend) PlaceBetWithSession(ctx context.Context, req PlaceBetRequest) (*models.Bet, error) {
	var bet models.Bet
	if err := b.post(ctx, "/api/one-tap/place-bet-with-session", "", req, &bet); err != nil {
		return nil, err
	}
	return &bet, nil
}

// CalculateMultiplier asks the backend for its multiplier on the given inputs.
func (b *Backend) CalculateMultiplier(ctx context.Context, req MultiplierRequest) (uint64, error) {
	var out struct {
		Multiplier json.Number `json:"multiplier"`
	}
	if err := b.post(ctx, "/api/one-tap/calculate-multiplier", "", req, &out); err != nil {
		return 0, err
	}
	m, err := strconv.ParseUint(out.Multiplier.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("multiplier %q: %w", out.Multiplier, err)
	}
	return m, nil
}
