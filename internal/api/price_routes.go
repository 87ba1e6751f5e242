package api

import (
	"net/http"
	"strings"

	"github.com/kjannette/tethra-tap/internal/models"
)

type pricesResponse struct {
	Connected bool                        `json:"connected"`
	Prices    map[string]models.PriceData `json:"prices"`
}

// handleLatestPrices returns the cached feed, or one symbol with ?symbol=.
func (s *Server) handleLatestPrices(w http.ResponseWriter, r *http.Request) {
	if symbol := strings.ToUpper(r.URL.Query().Get("symbol")); symbol != "" {
		pd, ok := s.deps.Prices.Latest(symbol)
		if !ok {
			writeError(w, http.StatusNotFound, "no price data available")
			return
		}
		writeJSON(w, http.StatusOK, pd)
		return
	}

	prices := s.deps.Prices.Snapshot()
	if prices == nil {
		prices = map[string]models.PriceData{}
	}
	writeJSON(w, http.StatusOK, pricesResponse{Connected: s.deps.Prices.Connected(), Prices: prices})
}

func (s *Server) handlePaper(w http.ResponseWriter, r *http.Request) {
	if s.deps.Paper == nil {
		writeError(w, http.StatusNotFound, "dry run is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": s.deps.Paper.Stats(),
		"fills": s.deps.Paper.Fills(),
	})
}
