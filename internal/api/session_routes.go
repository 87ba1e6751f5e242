package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/kjannette/tethra-tap/internal/tap"
)

type sessionResponse struct {
	Active    bool               `json:"active"`
	Session   *models.SessionKey `json:"session,omitempty"`
	ExpiresIn int64              `json:"expiresInSeconds,omitempty"`
}

type sessionCreateRequest struct {
	DurationMinutes int `json:"durationMinutes"`
}

func sessionView(key models.SessionKey) sessionResponse {
	key.PrivateKey = ""
	left := time.Until(time.UnixMilli(key.ExpiresAt))
	if left < 0 {
		left = 0
	}
	return sessionResponse{Active: true, Session: &key, ExpiresIn: int64(left / time.Second)}
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	key, ok := s.deps.Sessions.Current()
	if !ok {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	writeJSON(w, http.StatusOK, sessionView(key))
}

// handleSessionCreate asks the wallet to authorize a fresh session key. An
// empty body uses the configured duration.
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Wallet == nil {
		s.fail(w, r, tap.ErrNoWallet)
		return
	}
	var req sessionCreateRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > 24*60 {
		writeError(w, http.StatusBadRequest, "durationMinutes must be between 1 and 1440")
		return
	}
	duration := s.deps.SessionDuration
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
	}

	key, err := s.deps.Sessions.Create(r.Context(), s.deps.Wallet, duration)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(*key))
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Clear(); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
