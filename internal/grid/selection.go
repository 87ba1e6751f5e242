package grid

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kjannette/tethra-tap/internal/models"
)

// Selection holds the cells picked for the next batch. Tapping a cell again
// adds another order for it instead of deselecting.
type Selection struct {
	mu    sync.Mutex
	cells map[string]models.ClickedCell
}

func NewSelection() *Selection {
	return &Selection{cells: make(map[string]models.ClickedCell)}
}

// Toggle records one click on c and returns the cell's new state.
func (s *Selection) Toggle(c Cell) models.ClickedCell {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.Key()
	if existing, ok := s.cells[key]; ok {
		existing.ClickCount++
		s.cells[key] = existing
		return existing
	}
	cc := models.ClickedCell{
		CellX:        c.X,
		CellY:        c.Y,
		ClickCount:   1,
		TriggerPrice: FixedPoint8(c.TriggerPrice),
		StartTime:    c.StartTime,
		EndTime:      c.EndTime,
		IsLong:       c.IsLong,
	}
	s.cells[key] = cc
	return cc
}

// Remove drops a cell entirely regardless of its click count.
func (s *Selection) Remove(cellX, cellY int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := CellKey(cellX, cellY)
	if _, ok := s.cells[key]; !ok {
		return false
	}
	delete(s.cells, key)
	return true
}

func (s *Selection) Clear() {
	s.mu.Lock()
	s.cells = make(map[string]models.ClickedCell)
	s.mu.Unlock()
}

// Cells returns a snapshot ordered by column, then row.
func (s *Selection) Cells() []models.ClickedCell {
	s.mu.Lock()
	out := make([]models.ClickedCell, 0, len(s.cells))
	for _, c := range s.cells {
		out = append(out, c)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CellX != out[j].CellX {
			return out[i].CellX < out[j].CellX
		}
		return out[i].CellY < out[j].CellY
	})
	return out
}

func (s *Selection) TotalClicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.cells {
		n += c.ClickCount
	}
	return n
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cells)
}

type SelectionStats struct {
	Cells       int `json:"cells"`
	TotalClicks int `json:"totalClicks"`
	LongCells   int `json:"longCells"`
	ShortCells  int `json:"shortCells"`
	LongOrders  int `json:"longOrders"`
	ShortOrders int `json:"shortOrders"`
}

func Stats(cells []models.ClickedCell) SelectionStats {
	st := SelectionStats{Cells: len(cells)}
	for _, c := range cells {
		st.TotalClicks += c.ClickCount
		if c.IsLong {
			st.LongCells++
			st.LongOrders += c.ClickCount
		} else {
			st.ShortCells++
			st.ShortOrders += c.ClickCount
		}
	}
	return st
}

// FormatSelection renders the selection highest trigger first for logs.
func FormatSelection(cells []models.ClickedCell) string {
	if len(cells) == 0 {
		return "No cells selected."
	}

	sorted := make([]models.ClickedCell, len(cells))
	copy(sorted, cells)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CellY != sorted[j].CellY {
			return sorted[i].CellY > sorted[j].CellY
		}
		return sorted[i].CellX < sorted[j].CellX
	})

	var b strings.Builder
	b.WriteString("┌─────────────────────────────────────────────────┐\n")
	b.WriteString("│               SELECTED CELLS                    │\n")
	b.WriteString("├─────────────────────────────────────────────────┤\n")
	for _, c := range sorted {
		side := "SHORT"
		if c.IsLong {
			side = "LONG "
		}
		price := c.TriggerPrice
		if d, err := ParseFixed(c.TriggerPrice, PriceDecimals); err == nil {
			price = d.StringFixed(2)
		}
		fmt.Fprintf(&b, "│ (%3d,%3d) %s @ %12s │ x%-3d │\n", c.CellX, c.CellY, side, price, c.ClickCount)
	}
	st := Stats(cells)
	b.WriteString("├─────────────────────────────────────────────────┤\n")
	fmt.Fprintf(&b, "│  %d cells  │  %d orders  │\n", st.Cells, st.TotalClicks)
	b.WriteString("└─────────────────────────────────────────────────┘")
	return b.String()
}
