package tap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/kjannette/tethra-tap/internal/external"
	"github.com/kjannette/tethra-tap/internal/grid"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/kjannette/tethra-tap/internal/risk"
	"github.com/kjannette/tethra-tap/internal/signing"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoWallet         = errors.New("wallet not connected")
	ErrNoCells          = errors.New("no cells selected")
	ErrMarginTooSmall   = errors.New("margin too small for the number of orders")
	ErrSubmitInProgress = errors.New("a batch is already being submitted")
)

// SignerSource resolves the signer used for one batch.
type SignerSource interface {
	Signer() (signing.Signer, error)
}

// SessionAuthorizer supplies the delegation sent with session-signed orders.
type SessionAuthorizer interface {
	Authorization() (models.SessionAuthorization, error)
}

type BatchRequest struct {
	GridSessionID string
	Symbol        string
	Leverage      int64
	MarginTotal   *big.Int
	Contract      common.Address
}

type BatchResult struct {
	IdempotencyKey     string                   `json:"idempotencyKey"`
	Orders             []models.TapToTradeOrder `json:"orders"`
	Signed             int                      `json:"signed"`
	CollateralPerOrder *big.Int                 `json:"collateralPerOrder"`
	Dropped            *big.Int                 `json:"dropped"`
	Signer             common.Address           `json:"signer"`
	SignerKind         signing.Kind             `json:"signerKind"`
}

type SubmitterDeps struct {
	Selection *grid.Selection
	Signers   SignerSource
	Nonces    signing.NonceSource
	Sessions  SessionAuthorizer
	Backend   OrderBackend
	Guardian  *risk.Guardian
	Trader    common.Address
}

// Submitter turns the current selection into one signed batch.
type Submitter struct {
	deps SubmitterDeps
	log  *logrus.Entry

	busy      sync.Mutex
	hookMu    sync.Mutex
	onSuccess []func(context.Context, *BatchResult)
}

func NewSubmitter(deps SubmitterDeps, log *logger.Logger) *Submitter {
	return &Submitter{deps: deps, log: log.WithComponent("submitter")}
}

// OnSubmitted registers fn to run after a batch is accepted.
func (s *Submitter) OnSubmitted(fn func(context.Context, *BatchResult)) {
	s.hookMu.Lock()
	s.onSuccess = append(s.onSuccess, fn)
	s.hookMu.Unlock()
}

// Submit signs one order per click and posts them in a single call. Any
// signing failure aborts before the network call and leaves the selection
// as it was.
func (s *Submitter) Submit(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if !s.busy.TryLock() {
		return nil, ErrSubmitInProgress
	}
	defer s.busy.Unlock()

	if s.deps.Trader == (common.Address{}) {
		return nil, ErrNoWallet
	}
	cells := s.deps.Selection.Cells()
	total := 0
	for _, c := range cells {
		total += c.ClickCount
	}
	if total == 0 {
		return nil, ErrNoCells
	}
	if req.MarginTotal == nil || req.MarginTotal.Sign() <= 0 {
		return nil, fmt.Errorf("%w: margin must be positive", ErrMarginTooSmall)
	}
	if req.Leverage <= 0 {
		return nil, fmt.Errorf("leverage must be positive, got %d", req.Leverage)
	}
	if s.deps.Guardian != nil {
		if err := s.deps.Guardian.PreSubmitCheck(ctx, total, req.MarginTotal); err != nil {
			return nil, err
		}
	}

	per, dropped := new(big.Int).QuoRem(req.MarginTotal, big.NewInt(int64(total)), new(big.Int))
	if per.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s across %d orders", ErrMarginTooSmall, req.MarginTotal, total)
	}

	signer, err := s.deps.Signers.Signer()
	if err != nil {
		return nil, err
	}
	var auth *models.SessionAuthorization
	if signer.Kind() == signing.KindSession {
		a, err := s.deps.Sessions.Authorization()
		if err != nil {
			return nil, fmt.Errorf("session authorization: %w", err)
		}
		auth = &a
	}

	log := s.log.WithFields(logrus.Fields{
		"session": req.GridSessionID,
		"orders":  total,
		"signer":  signer.Kind(),
	})
	log.Info("Signing batch")

	nonces := signing.NewNonceSequencer(s.deps.Nonces)
	leverage := big.NewInt(req.Leverage)
	trader := s.deps.Trader.Hex()
	payloads := make([]external.OrderPayload, 0, total)
	for _, c := range cells {
		for i := 0; i < c.ClickCount; i++ {
			signed, err := signing.SignWith(ctx, signer, nonces, signing.MarketOrder{
				Trader:     s.deps.Trader,
				Symbol:     req.Symbol,
				IsLong:     c.IsLong,
				Collateral: per,
				Leverage:   leverage,
				Contract:   req.Contract,
			})
			if err != nil {
				log.WithError(err).Warn("Batch aborted while signing")
				return nil, fmt.Errorf("sign order %d of %d for cell %s: %w",
					len(payloads)+1, total, grid.CellKey(c.CellX, c.CellY), err)
			}
			payloads = append(payloads, external.OrderPayload{
				CellID:       grid.CellKey(c.CellX, c.CellY),
				Trader:       trader,
				Symbol:       req.Symbol,
				IsLong:       c.IsLong,
				Collateral:   per.String(),
				Leverage:     req.Leverage,
				TriggerPrice: c.TriggerPrice,
				StartTime:    c.StartTime,
				EndTime:      c.EndTime,
				Nonce:        signed.Nonce.String(),
				Signature:    hexutil.Encode(signed.Signature),
				Signer:       signed.Signer.Hex(),
				Session:      auth,
			})
		}
	}

	key := uuid.NewString()
	orders, err := s.deps.Backend.BatchCreate(ctx, key, external.BatchCreateRequest{
		GridSessionID: req.GridSessionID,
		Orders:        payloads,
	})
	if err != nil {
		return nil, fmt.Errorf("batch create: %w", err)
	}

	s.deps.Selection.Clear()
	res := &BatchResult{
		IdempotencyKey:     key,
		Orders:             orders,
		Signed:             len(payloads),
		CollateralPerOrder: per,
		Dropped:            dropped,
		Signer:             signer.Address(),
		SignerKind:         signer.Kind(),
	}
	log.WithFields(logrus.Fields{
		"collateral": per.String(),
		"dropped":    dropped.String(),
		"accepted":   len(orders),
	}).Info("Batch submitted")

	s.hookMu.Lock()
	hooks := append([]func(context.Context, *BatchResult){}, s.onSuccess...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(ctx, res)
	}
	return res, nil
}
