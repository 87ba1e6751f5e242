package api

import (
	"net/http"
	"strconv"

	"github.com/kjannette/tethra-tap/internal/grid"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/kjannette/tethra-tap/internal/tap"
	"github.com/shopspring/decimal"
)

type gridSessionResponse struct {
	Active  bool                `json:"active"`
	Session *models.GridSession `json:"session,omitempty"`
}

type cellsResponse struct {
	Cells []models.ClickedCell `json:"cells"`
	Stats grid.SelectionStats  `json:"stats"`
}

// toggleRequest addresses a cell either by index or by chart point.
type toggleRequest struct {
	CellX *int             `json:"cellX"`
	CellY *int             `json:"cellY"`
	Price *decimal.Decimal `json:"price"`
	Time  *int64           `json:"time"`
}

func (s *Server) handleGridEnable(w http.ResponseWriter, r *http.Request) {
	var p tap.EnableParams
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.deps.Tap.Enable(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, gridSessionResponse{Active: true, Session: sess})
}

func (s *Server) handleGridDisable(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tap.Disable(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gridSessionResponse{})
}

func (s *Server) handleGridSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.deps.Tap.ActiveSession()
	if !ok {
		writeJSON(w, http.StatusOK, gridSessionResponse{})
		return
	}
	writeJSON(w, http.StatusOK, gridSessionResponse{Active: true, Session: &sess})
}

func (s *Server) handleCells(w http.ResponseWriter, r *http.Request) {
	cells := s.deps.Tap.Selection()
	if cells == nil {
		cells = []models.ClickedCell{}
	}
	writeJSON(w, http.StatusOK, cellsResponse{Cells: cells, Stats: grid.Stats(cells)})
}

func (s *Server) handleCellToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		cell models.ClickedCell
		err  error
	)
	switch {
	case req.CellX != nil && req.CellY != nil:
		cell, err = s.deps.Tap.Toggle(*req.CellX, *req.CellY)
	case req.Price != nil && req.Time != nil:
		cell, err = s.deps.Tap.ToggleAt(*req.Price, *req.Time)
	default:
		writeError(w, http.StatusBadRequest, "either cellX and cellY or price and time are required")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

func (s *Server) handleCellRemove(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.PathValue("x"))
	y, errY := strconv.Atoi(r.PathValue("y"))
	if errX != nil || errY != nil {
		writeError(w, http.StatusBadRequest, "cell coordinates must be integers")
		return
	}
	if !s.deps.Tap.Remove(x, y) {
		writeError(w, http.StatusNotFound, "cell not selected")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCellsClear(w http.ResponseWriter, r *http.Request) {
	s.deps.Tap.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}
