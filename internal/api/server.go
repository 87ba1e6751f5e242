package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/tethra-tap/internal/external"
	"github.com/kjannette/tethra-tap/internal/grid"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/kjannette/tethra-tap/internal/onetap"
	"github.com/kjannette/tethra-tap/internal/risk"
	"github.com/kjannette/tethra-tap/internal/session"
	"github.com/kjannette/tethra-tap/internal/tap"
	"github.com/sirupsen/logrus"
)

const (
	maxQueryLimit = 1000
	maxBodyBytes  = 1 << 20
)

// SessionManager creates and drops the client's session key.
type SessionManager interface {
	Create(ctx context.Context, wallet session.Authorizer, duration time.Duration) (*models.SessionKey, error)
	Current() (models.SessionKey, bool)
	Clear() error
}

// PriceView is the read side of the shared price feed.
type PriceView interface {
	Snapshot() map[string]models.PriceData
	Latest(symbol string) (models.PriceData, bool)
	Connected() bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the API exposes. Wallet and DB may be nil.
type Deps struct {
	Tap             *tap.Service
	OneTap          *onetap.Service
	Sessions        SessionManager
	Wallet          session.Authorizer
	SessionDuration time.Duration
	Prices          PriceView
	DB              Pinger
	Paper           *tap.PaperRelay
}

type Server struct {
	deps       Deps
	httpServer *http.Server
	apiKey     string
	log        *logrus.Entry
}

func NewServer(deps Deps, port int, apiKey, corsOrigin string, log *logger.Logger) *Server {
	s := &Server{
		deps:   deps,
		apiKey: apiKey,
		log:    log.WithComponent("api"),
	}

	mux := http.NewServeMux()

	// Session key
	mux.HandleFunc("GET /v1/session", s.handleSessionGet)
	mux.HandleFunc("POST /v1/session", s.handleSessionCreate)
	mux.HandleFunc("DELETE /v1/session", s.handleSessionDelete)

	// Grid session
	mux.HandleFunc("POST /v1/grid/enable", s.handleGridEnable)
	mux.HandleFunc("POST /v1/grid/disable", s.handleGridDisable)
	mux.HandleFunc("GET /v1/grid/session", s.handleGridSession)

	// Cell selection
	mux.HandleFunc("GET /v1/cells", s.handleCells)
	mux.HandleFunc("POST /v1/cells/toggle", s.handleCellToggle)
	mux.HandleFunc("DELETE /v1/cells/{x}/{y}", s.handleCellRemove)
	mux.HandleFunc("DELETE /v1/cells", s.handleCellsClear)

	// Orders
	mux.HandleFunc("POST /v1/orders/submit", s.handleOrdersSubmit)
	mux.HandleFunc("GET /v1/orders", s.handleOrders)
	mux.HandleFunc("POST /v1/orders/{id}/cancel", s.handleOrderCancel)
	mux.HandleFunc("POST /v1/orders/cancel-cell", s.handleOrderCancelCell)
	mux.HandleFunc("POST /v1/orders/cancel-all", s.handleOrderCancelAll)

	// One-tap bets
	mux.HandleFunc("GET /v1/bets", s.handleBetsActive)
	mux.HandleFunc("POST /v1/bets", s.handleBetPlace)
	mux.HandleFunc("GET /v1/bets/history", s.handleBetsHistory)
	mux.HandleFunc("GET /v1/multiplier", s.handleMultiplier)

	// Prices
	mux.HandleFunc("GET /v1/prices/latest", s.handleLatestPrices)

	// Dry-run relay
	mux.HandleFunc("GET /v1/paper", s.handlePaper)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	handler := s.requestLogger(s.authMiddleware(corsMiddleware(mux, corsOrigin)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	return s
}

// Handler is the fully wrapped router.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("REST API server started")
	if s.apiKey != "" {
		s.log.Info("Authentication: enabled (Bearer token)")
	} else {
		s.log.Warn("Authentication: disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		entry := s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start).String(),
		})
		if rec.status >= 500 {
			entry.Warn("Request failed")
		} else {
			entry.Debug("Request")
		}
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	var apiErr *external.APIError
	switch {
	case errors.Is(err, tap.ErrInvalidParams),
		errors.Is(err, tap.ErrNoCells),
		errors.Is(err, tap.ErrMarginTooSmall),
		errors.Is(err, grid.ErrReferenceRow),
		errors.Is(err, grid.ErrNonPositivePrice),
		errors.Is(err, onetap.ErrInvalidBet),
		errors.Is(err, risk.ErrBlocked):
		return http.StatusBadRequest
	case errors.Is(err, tap.ErrNoWallet),
		errors.Is(err, onetap.ErrNoWallet),
		errors.Is(err, onetap.ErrSessionRequired),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, tap.ErrUnknownOrder),
		errors.Is(err, onetap.ErrNoPrice),
		errors.Is(err, external.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tap.ErrNoGridSession),
		errors.Is(err, tap.ErrSessionActive),
		errors.Is(err, tap.ErrSubmitInProgress),
		errors.Is(err, tap.ErrActionInProgress),
		errors.Is(err, tap.ErrNotCancellable),
		errors.Is(err, onetap.ErrDisabled),
		errors.Is(err, onetap.ErrMultiplierMismatch):
		return http.StatusConflict
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := s.log.WithError(err).WithFields(logrus.Fields{"path": r.URL.Path, "status": status})
	if status >= 500 {
		entry.Error("Request failed")
	} else {
		entry.Info("Request rejected")
	}
	writeError(w, status, err.Error())
}
