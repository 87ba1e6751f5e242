package api

import (
	"net/http"

	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/kjannette/tethra-tap/internal/tap"
)

type ordersResponse struct {
	Orders    []tap.OrderView `json:"orders"`
	LastSync  *string         `json:"lastSync,omitempty"`
	LastError string          `json:"lastError,omitempty"`
}

type cancelCellRequest struct {
	CellX int `json:"cellX"`
	CellY int `json:"cellY"`
}

func (s *Server) handleOrdersSubmit(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Tap.Submit(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleOrders lists the tracked orders, optionally filtered by ?status=.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	status := models.OrderStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.deps.Tap.Tracker().Refresh(r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	limit := parseLimit(r, 100)
	tracker := s.deps.Tap.Tracker()
	out := make([]tap.OrderView, 0)
	for _, v := range tracker.Orders() {
		if status != "" && v.Order.Status != status {
			continue
		}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}

	resp := ordersResponse{Orders: out}
	if ts := tracker.LastSync(); !ts.IsZero() {
		formatted := ts.UTC().Format("2006-01-02T15:04:05.000Z")
		resp.LastSync = &formatted
	}
	if err := tracker.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOrderCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tap.Tracker().CancelOrder(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrderCancelCell(w http.ResponseWriter, r *http.Request) {
	var req cancelCellRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Tap.CancelCell(r.Context(), req.CellX, req.CellY); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrderCancelAll(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tap.CancelAll(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
