package grid

import (
	"errors"
	"testing"

	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/shopspring/decimal"
)

func testGeometry() Geometry {
	return Geometry{
		ReferencePrice:   decimal.NewFromInt(50000),
		ReferenceTime:    1700000000,
		GridSizeYPercent: 50,
		TimeframeSeconds: 60,
		GridSizeX:        5,
	}
}

func TestResolve_TriggerPrice(t *testing.T) {
	m, err := NewMapper(testGeometry(), ZeroRowShort)
	if err != nil {
		t.Fatal(err)
	}
	c, err := m.Resolve(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := FixedPoint8(c.TriggerPrice); got != "5050000000000" {
		t.Fatalf("expected 5050000000000, got %s", got)
	}
	if !c.IsLong {
		t.Fatal("row above reference should be long")
	}

	c, err = m.Resolve(0, -3)
	if err != nil {
		t.Fatal(err)
	}
	if got := FixedPoint8(c.TriggerPrice); got != "4925000000000" {
		t.Fatalf("expected 4925000000000, got %s", got)
	}
	if c.IsLong {
		t.Fatal("row below reference should be short")
	}
}

func TestResolve_TimeWindow(t *testing.T) {
	m, _ := NewMapper(testGeometry(), ZeroRowShort)
	c, err := m.Resolve(3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if c.StartTime != 1700000180 {
		t.Fatalf("expected start 1700000180, got %d", c.StartTime)
	}
	if c.EndTime != 1700000480 {
		t.Fatalf("expected end 1700000480, got %d", c.EndTime)
	}
}

func TestResolve_ReferenceRow(t *testing.T) {
	geo := testGeometry()

	short, _ := NewMapper(geo, ZeroRowShort)
	c, err := short.Resolve(1, 0)
	if err != nil || c.IsLong {
		t.Fatalf("zero row should be short by default: long=%v err=%v", c.IsLong, err)
	}

	long, _ := NewMapper(geo, ZeroRowLong)
	c, err = long.Resolve(1, 0)
	if err != nil || !c.IsLong {
		t.Fatalf("zero row should be long: long=%v err=%v", c.IsLong, err)
	}

	reject, _ := NewMapper(geo, ZeroRowReject)
	if _, err := reject.Resolve(1, 0); !errors.Is(err, ErrReferenceRow) {
		t.Fatalf("expected ErrReferenceRow, got %v", err)
	}
}

func TestResolve_NonPositivePrice(t *testing.T) {
	m, _ := NewMapper(testGeometry(), ZeroRowShort)
	// 50 bps per row reaches zero at row -200
	if _, err := m.Resolve(0, -200); !errors.Is(err, ErrNonPositivePrice) {
		t.Fatalf("expected ErrNonPositivePrice, got %v", err)
	}
	if _, err := m.Resolve(0, -199); err != nil {
		t.Fatalf("row -199 should resolve: %v", err)
	}
}

func TestLocate_RoundTrip(t *testing.T) {
	geos := []Geometry{
		testGeometry(),
		{ReferencePrice: decimal.RequireFromString("3412.57"), ReferenceTime: 1710000007, GridSizeYPercent: 25, TimeframeSeconds: 300, GridSizeX: 2},
		{ReferencePrice: decimal.RequireFromString("0.61234567"), ReferenceTime: 1690000000, GridSizeYPercent: 100, TimeframeSeconds: 3600, GridSizeX: 1},
		{ReferencePrice: decimal.RequireFromString("0.61234567"), ReferenceTime: 1690000000, GridSizeYPercent: 33, TimeframeSeconds: 60, GridSizeX: 3},
	}
	for gi, geo := range geos {
		m, err := NewMapper(geo, ZeroRowShort)
		if err != nil {
			t.Fatalf("geometry %d: %v", gi, err)
		}
		for x := -4; x <= 6; x++ {
			for y := -20; y <= 20; y++ {
				c, err := m.Resolve(x, y)
				if err != nil {
					t.Fatalf("geometry %d resolve (%d,%d): %v", gi, x, y, err)
				}
				gx, gy := geo.Locate(c.TriggerPrice, c.StartTime)
				if gx != x || gy != y {
					t.Fatalf("geometry %d: (%d,%d) round-tripped to (%d,%d)", gi, x, y, gx, gy)
				}

				wire, err := ParseFixed(FixedPoint8(c.TriggerPrice), PriceDecimals)
				if err != nil {
					t.Fatal(err)
				}
				if _, gy := geo.Locate(wire, c.StartTime); gy != y {
					t.Fatalf("geometry %d: wire price %s of row %d located in row %d", gi, wire, y, gy)
				}
			}
		}
	}
}

func TestLocate_FloorSnaps(t *testing.T) {
	geo := testGeometry()
	// row step is 250; 50100 sits inside row 0, 49999 inside row -1
	x, y := geo.Locate(decimal.NewFromInt(50100), 1700000059)
	if x != 0 || y != 0 {
		t.Fatalf("expected (0,0), got (%d,%d)", x, y)
	}
	x, y = geo.Locate(decimal.NewFromInt(49999), 1699999999)
	if x != -1 || y != -1 {
		t.Fatalf("expected (-1,-1), got (%d,%d)", x, y)
	}
}

func TestGeometryFromSession(t *testing.T) {
	geo, err := GeometryFromSession(&models.GridSession{
		ReferencePrice:   "5000000000000",
		ReferenceTime:    1700000000,
		GridSizeYPercent: 50,
		TimeframeSeconds: 60,
		GridSizeX:        5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !geo.ReferencePrice.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("expected reference 50000, got %s", geo.ReferencePrice)
	}

	_, err = GeometryFromSession(&models.GridSession{ReferencePrice: "abc", GridSizeYPercent: 50, TimeframeSeconds: 60, GridSizeX: 5})
	if err == nil {
		t.Fatal("expected parse error")
	}
	_, err = GeometryFromSession(&models.GridSession{ReferencePrice: "100", TimeframeSeconds: 60, GridSizeX: 5})
	if err == nil {
		t.Fatal("expected validation error for zero grid size Y")
	}
}

func TestOverlayHelpers(t *testing.T) {
	abs := models.GridConfig{PriceGridSize: 10, PriceGridType: models.PriceGridAbsolute, TimeMultiplier: 3}
	if step := PriceStep(abs, decimal.NewFromInt(2000)); !step.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("absolute step: got %s", step)
	}
	pct := models.GridConfig{PriceGridSize: 0.5, PriceGridType: models.PriceGridPercentage}
	if step := PriceStep(pct, decimal.NewFromInt(2000)); !step.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("percentage step: got %s", step)
	}

	snapped := SnapPrice(decimal.RequireFromString("2017.5"), decimal.NewFromInt(10))
	if !snapped.Equal(decimal.NewFromInt(2010)) {
		t.Fatalf("expected 2010, got %s", snapped)
	}
	snapped = SnapPrice(decimal.RequireFromString("-3"), decimal.NewFromInt(10))
	if !snapped.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("expected -10, got %s", snapped)
	}

	if n := CandlesPerColumn(abs); n != 3 {
		t.Fatalf("expected 3 candles per column, got %d", n)
	}
	if n := CandlesPerColumn(models.GridConfig{}); n != 1 {
		t.Fatalf("expected minimum of 1, got %d", n)
	}
	cases := map[int]int{0: 0, 2: 0, 3: 1, 7: 2, -1: -1, -3: -1, -4: -2}
	for idx, want := range cases {
		if got := ColumnOf(idx, 3); got != want {
			t.Fatalf("ColumnOf(%d,3) = %d, want %d", idx, got, want)
		}
	}
}

func TestParseSidePolicy(t *testing.T) {
	for in, want := range map[string]SidePolicy{"": ZeroRowShort, "short": ZeroRowShort, "long": ZeroRowLong, "reject": ZeroRowReject} {
		got, err := ParseSidePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseSidePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSidePolicy("sideways"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
