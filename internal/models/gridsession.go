package models

import "time"

type PriceGridType string

const (
	PriceGridAbsolute   PriceGridType = "absolute"
	PriceGridPercentage PriceGridType = "percentage"
)

// GridConfig is the chart overlay configuration owned by the UI session.
type GridConfig struct {
	PriceGridSize  float64       `json:"priceGridSize"`
	PriceGridType  PriceGridType `json:"priceGridType"`
	TimeMultiplier int           `json:"timeMultiplier"`
	Enabled        bool          `json:"enabled"`
	ShowLabels     bool          `json:"showLabels"`
}

// GridSession is the server-confirmed tap-to-trade session. ReferencePrice
// is a fixed-point string with 8 implied decimals, MarginTotal with 6.
type GridSession struct {
	ID               string    `json:"id"`
	Trader           string    `json:"trader"`
	Symbol           string    `json:"symbol"`
	MarginTotal      string    `json:"marginTotal"`
	Leverage         int64     `json:"leverage"`
	TimeframeSeconds int64     `json:"timeframeSeconds"`
	GridSizeX        int64     `json:"gridSizeX"`
	GridSizeYPercent int64     `json:"gridSizeYPercent"`
	ReferenceTime    int64     `json:"referenceTime"`
	ReferencePrice   string    `json:"referencePrice"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ClickedCell is one selected grid cell awaiting submission.
type ClickedCell struct {
	CellX        int    `json:"cellX"`
	CellY        int    `json:"cellY"`
	ClickCount   int    `json:"clickCount"`
	TriggerPrice string `json:"triggerPrice"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime"`
	IsLong       bool   `json:"isLong"`
}
