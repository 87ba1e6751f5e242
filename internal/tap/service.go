package tap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kjannette/tethra-tap/internal/external"
	"github.com/kjannette/tethra-tap/internal/grid"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/kjannette/tethra-tap/internal/risk"
	"github.com/kjannette/tethra-tap/internal/signing"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoGridSession = errors.New("tap-to-trade is not enabled")
	ErrSessionActive = errors.New("a grid session is already active")
	ErrInvalidParams = errors.New("invalid grid parameters")
)

// OrderBackend is the tap-to-trade order API.
type OrderBackend interface {
	BatchCreate(ctx context.Context, idempotencyKey string, req external.BatchCreateRequest) ([]models.TapToTradeOrder, error)
	ListOrders(ctx context.Context, trader string, status models.OrderStatus) ([]models.TapToTradeOrder, error)
	CancelOrder(ctx context.Context, req external.CancelOrderRequest) error
	CancelCell(ctx context.Context, req external.CancelCellRequest) error
	CancelGrid(ctx context.Context, req external.CancelGridRequest) error
}

// SessionBackend opens and closes grid sessions.
type SessionBackend interface {
	CreateGridSession(ctx context.Context, req external.CreateSessionRequest) (*models.GridSession, error)
	CancelGridSession(ctx context.Context, req external.CancelSessionRequest) error
}

type Backend interface {
	OrderBackend
	SessionBackend
}

// AllowanceEnsurer makes sure the trading contract may pull the margin.
type AllowanceEnsurer interface {
	EnsureAllowance(ctx context.Context, spender common.Address, amount *big.Int) (bool, error)
}

// SessionJournal persists grid sessions across restarts.
type SessionJournal interface {
	Save(ctx context.Context, s *models.GridSession) error
	Deactivate(ctx context.Context, id string) error
	GetActive(ctx context.Context, trader string) (*models.GridSession, error)
}

type ServiceConfig struct {
	Trader     common.Address
	Contract   common.Address
	SidePolicy grid.SidePolicy
	OrderPoll  time.Duration
	Limits     risk.Limits
}

type Deps struct {
	Backend   Backend
	Signers   SignerSource
	Nonces    signing.NonceSource
	Sessions  SessionAuthorizer
	Allowance AllowanceEnsurer
	Journal   SessionJournal
}

// EnableParams opens a grid session. Margin is in collateral base units.
type EnableParams struct {
	Symbol           string          `json:"symbol"`
	MarginTotal      *big.Int        `json:"marginTotal"`
	Leverage         int64           `json:"leverage"`
	TimeframeSeconds int64           `json:"timeframeSeconds"`
	GridSizeX        int64           `json:"gridSizeX"`
	GridSizeYPercent int64           `json:"gridSizeYPercent"`
	ReferencePrice   decimal.Decimal `json:"referencePrice"`
	ReferenceTime    int64           `json:"referenceTime"`
}

func (p EnableParams) Validate() error {
	var errs []string
	if strings.TrimSpace(p.Symbol) == "" {
		errs = append(errs, "symbol is required")
	}
	if p.MarginTotal == nil || p.MarginTotal.Sign() <= 0 {
		errs = append(errs, "marginTotal must be positive")
	}
	if p.Leverage <= 0 {
		errs = append(errs, "leverage must be positive")
	}
	if p.TimeframeSeconds <= 0 {
		errs = append(errs, "timeframeSeconds must be positive")
	}
	if p.GridSizeX <= 0 {
		errs = append(errs, "gridSizeX must be positive")
	}
	if p.GridSizeYPercent <= 0 {
		errs = append(errs, "gridSizeYPercent must be positive")
	}
	if !p.ReferencePrice.IsPositive() {
		errs = append(errs, "referencePrice must be positive")
	}
	if p.ReferenceTime <= 0 {
		errs = append(errs, "referenceTime must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(errs, "; "))
	}
	return nil
}

// Service is the tap-to-trade facade used by the API: one grid session,
// its selection, the submitter and the order tracker.
type Service struct {
	cfg       ServiceConfig
	deps      Deps
	selection *grid.Selection
	submitter *Submitter
	tracker   *Tracker
	log       *logrus.Entry

	mu      sync.Mutex
	session *models.GridSession
	mapper  *grid.Mapper
}

func NewService(cfg ServiceConfig, deps Deps, log *logger.Logger) *Service {
	trader := strings.ToLower(cfg.Trader.Hex())
	if cfg.Trader == (common.Address{}) {
		trader = ""
	}
	tracker := NewTracker(deps.Backend, trader, cfg.OrderPoll, log)
	selection := grid.NewSelection()
	submitter := NewSubmitter(SubmitterDeps{
		Selection: selection,
		Signers:   deps.Signers,
		Nonces:    deps.Nonces,
		Sessions:  deps.Sessions,
		Backend:   deps.Backend,
		Guardian:  risk.NewGuardian(cfg.Limits, tracker),
		Trader:    cfg.Trader,
	}, log)
	submitter.OnSubmitted(func(ctx context.Context, res *BatchResult) {
		tracker.Track(res.Orders)
		if err := tracker.Refresh(ctx); err != nil {
			tracker.log.WithError(err).Warn("Refresh after submit failed")
		}
	})

	return &Service{
		cfg:       cfg,
		deps:      deps,
		selection: selection,
		submitter: submitter,
		tracker:   tracker,
		log:       log.WithComponent("tap"),
	}
}

func (s *Service) Tracker() *Tracker        { return s.tracker }
func (s *Service) Submitter() *Submitter    { return s.submitter }
func (s *Service) Trader() common.Address   { return s.cfg.Trader }
func (s *Service) Contract() common.Address { return s.cfg.Contract }

// Start begins order polling.
func (s *Service) Start() {
	if s.cfg.Trader == (common.Address{}) {
		s.log.Warn("No wallet configured, order polling disabled")
		return
	}
	s.tracker.Start()
}

func (s *Service) Stop() {
	s.tracker.Stop()
}

// Restore reloads the last active grid session from the journal.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	if s.deps.Journal == nil {
		return false, nil
	}
	sess, err := s.deps.Journal.GetActive(ctx, strings.ToLower(s.cfg.Trader.Hex()))
	if err != nil {
		return false, fmt.Errorf("load active grid session: %w", err)
	}
	if sess == nil {
		return false, nil
	}
	if err := s.activate(sess); err != nil {
		return false, err
	}
	s.log.WithField("session", sess.ID).Info("Restored grid session")
	return true, nil
}

// Enable opens a grid session on the backend and makes it the target of
// every subsequent tap.
func (s *Service) Enable(ctx context.Context, p EnableParams) (*models.GridSession, error) {
	if s.cfg.Trader == (common.Address{}) {
		return nil, ErrNoWallet
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	active := s.session != nil
	s.mu.Unlock()
	if active {
		return nil, ErrSessionActive
	}

	if s.deps.Allowance != nil {
		approved, err := s.deps.Allowance.EnsureAllowance(ctx, s.cfg.Contract, p.MarginTotal)
		if err != nil {
			return nil, fmt.Errorf("collateral allowance: %w", err)
		}
		if approved {
			s.log.Info("Collateral approved for tap-to-trade")
		}
	}

	sess, err := s.deps.Backend.CreateGridSession(ctx, external.CreateSessionRequest{
		Trader:           s.cfg.Trader.Hex(),
		Symbol:           strings.ToUpper(p.Symbol),
		MarginTotal:      p.MarginTotal.String(),
		Leverage:         p.Leverage,
		TimeframeSeconds: p.TimeframeSeconds,
		GridSizeX:        p.GridSizeX,
		GridSizeYPercent: p.GridSizeYPercent,
		ReferenceTime:    p.ReferenceTime,
		ReferencePrice:   grid.FixedPoint8(p.ReferencePrice),
	})
	if err != nil {
		return nil, fmt.Errorf("create grid session: %w", err)
	}
	if sess.ID == "" {
		return nil, errors.New("create grid session: backend returned no session id")
	}
	if err := s.activate(sess); err != nil {
		return nil, err
	}

	if s.deps.Journal != nil {
		if err := s.deps.Journal.Save(ctx, sess); err != nil {
			s.log.WithError(err).Warn("Failed to journal grid session")
		}
	}
	s.log.WithFields(logrus.Fields{
		"session":  sess.ID,
		"symbol":   sess.Symbol,
		"margin":   sess.MarginTotal,
		"leverage": sess.Leverage,
	}).Info("Tap-to-trade enabled")
	return sess, nil
}

func (s *Service) activate(sess *models.GridSession) error {
	geo, err := grid.GeometryFromSession(sess)
	if err != nil {
		return fmt.Errorf("grid session %s: %w", sess.ID, err)
	}
	mapper, err := grid.NewMapper(geo, s.cfg.SidePolicy)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.session = sess
	s.mapper = mapper
	s.mu.Unlock()
	s.selection.Clear()
	return nil
}

// Disable closes the active grid session.
func (s *Service) Disable(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return ErrNoGridSession
	}

	err := s.deps.Backend.CancelGridSession(ctx, external.CancelSessionRequest{
		GridSessionID: sess.ID,
		Trader:        s.cfg.Trader.Hex(),
	})
	if err != nil {
		return fmt.Errorf("cancel grid session: %w", err)
	}

	s.mu.Lock()
	s.session = nil
	s.mapper = nil
	s.mu.Unlock()
	s.selection.Clear()

	if s.deps.Journal != nil {
		if err := s.deps.Journal.Deactivate(ctx, sess.ID); err != nil {
			s.log.WithError(err).Warn("Failed to journal session close")
		}
	}
	s.log.WithField("session", sess.ID).Info("Tap-to-trade disabled")
	if err := s.tracker.Refresh(ctx); err != nil {
		s.log.WithError(err).Debug("Refresh after disable failed")
	}
	return nil
}

// ActiveSession returns a copy of the active grid session.
func (s *Service) ActiveSession() (models.GridSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return models.GridSession{}, false
	}
	return *s.session, true
}

func (s *Service) currentMapper() (*grid.Mapper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapper == nil {
		return nil, ErrNoGridSession
	}
	return s.mapper, nil
}

// Toggle records a tap on cell (x, y) of the active session.
func (s *Service) Toggle(cellX, cellY int) (models.ClickedCell, error) {
	m, err := s.currentMapper()
	if err != nil {
		return models.ClickedCell{}, err
	}
	cell, err := m.Resolve(cellX, cellY)
	if err != nil {
		return models.ClickedCell{}, err
	}
	return s.selection.Toggle(cell), nil
}

// ToggleAt records a tap at a chart point.
func (s *Service) ToggleAt(price decimal.Decimal, unixSeconds int64) (models.ClickedCell, error) {
	m, err := s.currentMapper()
	if err != nil {
		return models.ClickedCell{}, err
	}
	cell, err := m.ResolveAt(price, unixSeconds)
	if err != nil {
		return models.ClickedCell{}, err
	}
	return s.selection.Toggle(cell), nil
}

func (s *Service) Remove(cellX, cellY int) bool { return s.selection.Remove(cellX, cellY) }
func (s *Service) ClearSelection()              { s.selection.Clear() }
func (s *Service) Selection() []models.ClickedCell {
	return s.selection.Cells()
}

// Submit sends the selection as one batch against the active session.
func (s *Service) Submit(ctx context.Context) (*BatchResult, error) {
	sess, ok := s.ActiveSession()
	if !ok {
		return nil, ErrNoGridSession
	}
	margin, ok := new(big.Int).SetString(sess.MarginTotal, 10)
	if !ok {
		return nil, fmt.Errorf("grid session %s: bad margin %q", sess.ID, sess.MarginTotal)
	}
	return s.submitter.Submit(ctx, BatchRequest{
		GridSessionID: sess.ID,
		Symbol:        sess.Symbol,
		Leverage:      sess.Leverage,
		MarginTotal:   margin,
		Contract:      s.cfg.Contract,
	})
}

// CancelCell cancels the PENDING orders of cell (x, y) in the active session.
func (s *Service) CancelCell(ctx context.Context, cellX, cellY int) error {
	sess, ok := s.ActiveSession()
	if !ok {
		return ErrNoGridSession
	}
	return s.tracker.CancelCell(ctx, sess.ID, grid.CellKey(cellX, cellY))
}

// CancelAll cancels every PENDING order in the active session.
func (s *Service) CancelAll(ctx context.Context) error {
	sess, ok := s.ActiveSession()
	if !ok {
		return ErrNoGridSession
	}
	return s.tracker.CancelAll(ctx, sess.ID)
}
