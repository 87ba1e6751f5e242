package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/tethra-tap/internal/onetap"
	"github.com/shopspring/decimal"
)

type multiplierResponse struct {
	Multiplier uint64 `json:"multiplier"`
	Display    string `json:"display"`
	EntryPrice string `json:"entryPrice"`
	EntryTime  int64  `json:"entryTime"`
	Verified   bool   `json:"verified"`
}

func (s *Server) handleBetsActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.OneTap.Active())
}

func (s *Server) handleBetPlace(w http.ResponseWriter, r *http.Request) {
	var req onetap.BetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.deps.OneTap.PlaceBet(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleBetsHistory(w http.ResponseWriter, r *http.Request) {
	views, err := s.deps.OneTap.History(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if limit := parseLimit(r, 100); len(views) > limit {
		views = views[:limit]
	}
	writeJSON(w, http.StatusOK, views)
}

// handleMultiplier previews a bet's multiplier. Prices are decimal strings.
// Without entryPrice the live price of ?symbol= is used, and without
// entryTime the current time. ?verify=true cross-checks the backend.
func (s *Server) handleMultiplier(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	target, err := decimal.NewFromString(q.Get("targetPrice"))
	if err != nil || !target.IsPositive() {
		writeError(w, http.StatusBadRequest, "targetPrice must be a positive decimal")
		return
	}
	targetTime, err := strconv.ParseInt(q.Get("targetTime"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "targetTime must be unix seconds")
		return
	}

	entryTime := time.Now().Unix()
	if v := q.Get("entryTime"); v != "" {
		if entryTime, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "entryTime must be unix seconds")
			return
		}
	}

	var entry decimal.Decimal
	if v := q.Get("entryPrice"); v != "" {
		if entry, err = decimal.NewFromString(v); err != nil || !entry.IsPositive() {
			writeError(w, http.StatusBadRequest, "entryPrice must be a positive decimal")
			return
		}
	} else {
		symbol := strings.ToUpper(q.Get("symbol"))
		pd, ok := s.deps.Prices.Latest(symbol)
		if symbol == "" || !ok || pd.Price <= 0 {
			s.fail(w, r, onetap.ErrNoPrice)
			return
		}
		entry = decimal.NewFromFloat(pd.Price)
	}

	entryFixed := onetap.FixedPrice(entry)
	targetFixed := onetap.FixedPrice(target)
	resp := multiplierResponse{EntryPrice: entryFixed.String(), EntryTime: entryTime}

	if q.Get("verify") == "true" {
		m, err := s.deps.OneTap.VerifyMultiplier(r.Context(), entryFixed, targetFixed, entryTime, targetTime)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp.Multiplier, resp.Verified = m, true
	} else {
		resp.Multiplier = onetap.CalculateMultiplier(entryFixed, targetFixed, entryTime, targetTime)
	}
	resp.Display = onetap.DisplayMultiplier(resp.Multiplier)
	writeJSON(w, http.StatusOK, resp)
}
