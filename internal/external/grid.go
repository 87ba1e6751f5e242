package external

import (
	"context"

	"github.com/kjannette/tethra-tap/internal/models"
)

type CreateSessionRequest struct {
	Trader           string `json:"trader"`
	Symbol           string `json:"symbol"`
	MarginTotal      string `json:"marginTotal"`
	Leverage         int64  `json:"leverage"`
	TimeframeSeconds int64  `json:"timeframeSeconds"`
	GridSizeX        int64  `json:"gridSizeX"`
	GridSizeYPercent int64  `json:"gridSizeYPercent"`
	ReferenceTime    int64  `json:"referenceTime"`
	ReferencePrice   string `json:"referencePrice"`
}

type CancelSessionRequest struct {
	GridSessionID string `json:"gridSessionId"`
	Trader        string `json:"trader"`
}

func (b *Backend) CreateGridSession(ctx context.Context, req CreateSessionRequest) (*models.GridSession, error) {
	var s models.GridSession
	if err := b.post(ctx, "/api/grid/create-session", "", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *Backend) CancelGridSession(ctx context.Context, req CancelSessionRequest) error {
	return b.post(ctx, "/api/grid/cancel-session", "", req, nil)
}
