package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database   string `json:"database"`
	PriceFeed  string `json:"priceFeed"`
	SessionKey string `json:"sessionKey"`
	GridActive bool   `json:"gridActive"`
	OrderSync  string `json:"orderSync"`
	DryRun     bool   `json:"dryRun"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if s.deps.DB != nil {
		dbStatus = "connected"
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			dbStatus = "disconnected"
		}
	}

	feed := "disconnected"
	if s.deps.Prices.Connected() {
		feed = "connected"
	}

	sessionStatus := "none"
	if _, ok := s.deps.Sessions.Current(); ok {
		sessionStatus = "active"
	}

	_, gridActive := s.deps.Tap.ActiveSession()

	orderSync := "pending"
	if err := s.deps.Tap.Tracker().LastError(); err != nil {
		orderSync = "failing"
	} else if !s.deps.Tap.Tracker().LastSync().IsZero() {
		orderSync = "ok"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services: healthServices{
			Database:   dbStatus,
			PriceFeed:  feed,
			SessionKey: sessionStatus,
			GridActive: gridActive,
			OrderSync:  orderSync,
			DryRun:     s.deps.Paper != nil,
		},
	})
}
