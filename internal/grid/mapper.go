package grid

import (
	"errors"
	"fmt"

	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/shopspring/decimal"
)

// PriceDecimals and CollateralDecimals are the implied decimals of the
// fixed-point strings exchanged with the backend and contracts.
const (
	PriceDecimals      = 8
	CollateralDecimals = 6
)

var (
	ErrReferenceRow     = errors.New("reference row is not tradeable")
	ErrNonPositivePrice = errors.New("cell trigger price is not positive")
)

// Geometry is the price/time frame a grid session's cells are addressed in.
// GridSizeYPercent is in basis points per price row; TimeframeSeconds is the
// length of one time unit and GridSizeX the number of units one cell spans.
type Geometry struct {
	ReferencePrice   decimal.Decimal
	ReferenceTime    int64
	GridSizeYPercent int64
	TimeframeSeconds int64
	GridSizeX        int64
}

func GeometryFromSession(s *models.GridSession) (Geometry, error) {
	ref, err := ParseFixed(s.ReferencePrice, PriceDecimals)
	if err != nil {
		return Geometry{}, fmt.Errorf("reference price: %w", err)
	}
	g := Geometry{
		ReferencePrice:   ref,
		ReferenceTime:    s.ReferenceTime,
		GridSizeYPercent: s.GridSizeYPercent,
		TimeframeSeconds: s.TimeframeSeconds,
		GridSizeX:        s.GridSizeX,
	}
	return g, g.Validate()
}

func (g Geometry) Validate() error {
	if !g.ReferencePrice.IsPositive() {
		return fmt.Errorf("reference price must be positive")
	}
	if g.GridSizeYPercent <= 0 {
		return fmt.Errorf("grid size Y must be positive")
	}
	if g.TimeframeSeconds <= 0 {
		return fmt.Errorf("timeframe must be positive")
	}
	if g.GridSizeX <= 0 {
		return fmt.Errorf("grid size X must be positive")
	}
	return nil
}

// RowStep is the price distance between two adjacent rows.
func (g Geometry) RowStep() decimal.Decimal {
	return g.ReferencePrice.Mul(decimal.NewFromInt(g.GridSizeYPercent)).Shift(-4)
}

// TriggerPrice = referencePrice * (1 + gridSizeYPercent/10000 * cellY).
func (g Geometry) TriggerPrice(cellY int) decimal.Decimal {
	return g.ReferencePrice.Add(g.RowStep().Mul(decimal.NewFromInt(int64(cellY))))
}

func (g Geometry) StartTime(cellX int) int64 {
	return g.ReferenceTime + int64(cellX)*g.TimeframeSeconds
}

func (g Geometry) EndTime(cellX int) int64 {
	return g.StartTime(cellX) + g.GridSizeX*g.TimeframeSeconds
}

// Locate returns the cell owning a continuous price and time: the price is
// floor-snapped to its row and the time to its column. Row boundaries are
// the 8-decimal trigger prices, so a wire price maps back to its own row.
func (g Geometry) Locate(price decimal.Decimal, unixSeconds int64) (cellX, cellY int) {
	rows := price.Sub(g.ReferencePrice).Div(g.RowStep()).Floor()
	cellY = int(rows.IntPart())
	if !price.LessThan(g.TriggerPrice(cellY + 1).Round(PriceDecimals)) {
		cellY++
	}
	cellX = int(floorDiv(unixSeconds-g.ReferenceTime, g.TimeframeSeconds))
	return cellX, cellY
}

// Cell is a fully resolved grid cell.
type Cell struct {
	X            int
	Y            int
	TriggerPrice decimal.Decimal
	StartTime    int64
	EndTime      int64
	IsLong       bool
}

// Key identifies the cell within one grid session.
func (c Cell) Key() string {
	return CellKey(c.X, c.Y)
}

func CellKey(x, y int) string {
	return fmt.Sprintf("%d:%d", x, y)
}

// Mapper resolves cell addresses against one session geometry.
type Mapper struct {
	geo    Geometry
	policy SidePolicy
}

func NewMapper(geo Geometry, policy SidePolicy) (*Mapper, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	return &Mapper{geo: geo, policy: policy}, nil
}

func (m *Mapper) Geometry() Geometry { return m.geo }

func (m *Mapper) Resolve(cellX, cellY int) (Cell, error) {
	isLong, err := m.policy.IsLong(cellY)
	if err != nil {
		return Cell{}, err
	}
	price := m.geo.TriggerPrice(cellY)
	if !price.IsPositive() {
		return Cell{}, fmt.Errorf("cell (%d,%d): %w", cellX, cellY, ErrNonPositivePrice)
	}
	return Cell{
		X:            cellX,
		Y:            cellY,
		TriggerPrice: price,
		StartTime:    m.geo.StartTime(cellX),
		EndTime:      m.geo.EndTime(cellX),
		IsLong:       isLong,
	}, nil
}

// ResolveAt hit-tests a chart point and resolves the cell under it.
func (m *Mapper) ResolveAt(price decimal.Decimal, unixSeconds int64) (Cell, error) {
	x, y := m.geo.Locate(price, unixSeconds)
	return m.Resolve(x, y)
}

// --- chart overlay helpers ---

// PriceStep is the distance between horizontal overlay lines for a config.
func PriceStep(cfg models.GridConfig, currentPrice decimal.Decimal) decimal.Decimal {
	size := decimal.NewFromFloat(cfg.PriceGridSize)
	if cfg.PriceGridType == models.PriceGridPercentage {
		return currentPrice.Mul(size).Div(decimal.NewFromInt(100))
	}
	return size
}

// SnapPrice snaps a price to the nearest grid line at or below it.
func SnapPrice(price, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return price
	}
	return price.Div(step).Floor().Mul(step)
}

// ColumnOf maps a candle index to its overlay column.
func ColumnOf(candleIndex, candlesPerColumn int) int {
	if candlesPerColumn <= 1 {
		return candleIndex
	}
	return int(floorDiv(int64(candleIndex), int64(candlesPerColumn)))
}

func CandlesPerColumn(cfg models.GridConfig) int {
	if cfg.TimeMultiplier < 1 {
		return 1
	}
	return cfg.TimeMultiplier
}

// --- fixed point ---

// FixedPoint renders d as an integer string with the given implied decimals.
func FixedPoint(d decimal.Decimal, decimals int32) string {
	return d.Shift(decimals).Round(0).String()
}

// FixedPoint8 renders a price with 8 implied decimals.
func FixedPoint8(d decimal.Decimal) string {
	return FixedPoint(d, PriceDecimals)
}

// ParseFixed reads an integer string with implied decimals.
func ParseFixed(s string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-decimals), nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
