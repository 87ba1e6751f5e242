package onetap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
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
	ErrNoWallet           = errors.New("wallet not connected")
	ErrDisabled           = errors.New("one-tap contract not configured")
	ErrSessionRequired    = errors.New("one-tap bets need an active session key")
	ErrNoPrice            = errors.New("no live price for symbol")
	ErrInvalidBet         = errors.New("invalid bet")
	ErrMultiplierMismatch = errors.New("multiplier differs from backend")
)

type BetBackend interface {
	ListBets(ctx context.Context, trader string) ([]models.Bet, error)
	GetBet(ctx context.Context, id string) (*models.Bet, error)
	PlaceBetWithSession(ctx context.Context, req external.PlaceBetRequest) (*models.Bet, error)
	CalculateMultiplier(ctx context.Context, req external.MultiplierRequest) (uint64, error)
}

// Sessions is the session key capability bets are signed with.
type Sessions interface {
	signing.SessionKeys
	Authorization() (models.SessionAuthorization, error)
}

// PriceSource supplies the entry price for a new bet.
type PriceSource interface {
	Latest(symbol string) (models.PriceData, bool)
}

type AllowanceEnsurer interface {
	EnsureAllowance(ctx context.Context, spender common.Address, amount *big.Int) (bool, error)
}

type ServiceConfig struct {
	Trader   common.Address
	Contract common.Address
	Limits   risk.Limits
	BetPoll  time.Duration
}

type Deps struct {
	Backend   BetBackend
	Sessions  Sessions
	Nonces    signing.NonceSource
	Prices    PriceSource
	Allowance AllowanceEnsurer
}

// BetRequest places a bet that the price reaches TargetPrice by TargetTime.
// BetAmount is in collateral base units.
type BetRequest struct {
	Symbol      string          `json:"symbol"`
	BetAmount   *big.Int        `json:"betAmount"`
	TargetPrice decimal.Decimal `json:"targetPrice"`
	TargetTime  int64           `json:"targetTime"`
}

// BetView is a bet with its multiplier recomputed from the stored entry
// and target. When those do not parse, Recomputed is false and Display
// shows the backend's multiplier.
type BetView struct {
	models.Bet
	Recomputed bool   `json:"recomputed"`
	Computed   uint64 `json:"computedMultiplier,omitempty"`
	Display    string `json:"display"`
	Payout     string `json:"payout,omitempty"`
}

type Service struct {
	cfg      ServiceConfig
	deps     Deps
	guardian *risk.Guardian
	tracker  *BetTracker
	log      *logrus.Entry
	now      func() time.Time
}

func NewService(cfg ServiceConfig, deps Deps, log *logger.Logger) *Service {
	return &Service{
		cfg:      cfg,
		deps:     deps,
		guardian: risk.NewGuardian(cfg.Limits, nil),
		tracker:  NewBetTracker(deps.Backend, cfg.Trader.Hex(), cfg.BetPoll, log),
		log:      log.WithComponent("onetap"),
		now:      time.Now,
	}
}

func (s *Service) Tracker() *BetTracker { return s.tracker }

// SetClock replaces the time source used for entry times.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Enabled() bool {
	return s.cfg.Contract != (common.Address{}) && s.cfg.Trader != (common.Address{})
}

func (s *Service) Start() {
	if !s.Enabled() {
		s.log.Warn("One-tap disabled, bet polling not started")
		return
	}
	s.tracker.Start()
}

func (s *Service) Stop() { s.tracker.Stop() }

// PlaceBet signs the bet with the session key and submits it with the
// session's authorization.
func (s *Service) PlaceBet(ctx context.Context, req BetRequest) (*BetView, error) {
	if s.cfg.Trader == (common.Address{}) {
		return nil, ErrNoWallet
	}
	if s.cfg.Contract == (common.Address{}) {
		return nil, ErrDisabled
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidBet)
	}
	if req.BetAmount == nil {
		return nil, fmt.Errorf("%w: bet amount is required", ErrInvalidBet)
	}
	if err := s.guardian.BetCheck(req.BetAmount); err != nil {
		return nil, err
	}
	if !req.TargetPrice.IsPositive() {
		return nil, fmt.Errorf("%w: target price must be positive", ErrInvalidBet)
	}
	now := s.now()
	if req.TargetTime <= now.Unix() {
		return nil, fmt.Errorf("%w: target time must be in the future", ErrInvalidBet)
	}

	if s.deps.Sessions == nil || !s.deps.Sessions.Valid() {
		return nil, ErrSessionRequired
	}
	signer, err := signing.NewSessionSigner(s.deps.Sessions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionRequired, err)
	}

	pd, ok := s.deps.Prices.Latest(symbol)
	if !ok || pd.Price <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	entryPrice := FixedPrice(decimal.NewFromFloat(pd.Price))
	targetPrice := FixedPrice(req.TargetPrice)
	entryTime := now.Unix()
	multiplier := CalculateMultiplier(entryPrice, targetPrice, entryTime, req.TargetTime)

	if s.deps.Allowance != nil {
		if _, err := s.deps.Allowance.EnsureAllowance(ctx, s.cfg.Contract, req.BetAmount); err != nil {
			return nil, fmt.Errorf("collateral allowance: %w", err)
		}
	}

	nonce, err := s.deps.Nonces.MetaNonce(ctx, s.cfg.Trader)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	hash, err := signing.BetHash(s.cfg.Trader, symbol, req.BetAmount, targetPrice, req.TargetTime, nonce, s.cfg.Contract)
	if err != nil {
		return nil, fmt.Errorf("hash bet: %w", err)
	}
	sig, err := signer.SignHash(ctx, hash.Bytes())
	if err != nil {
		return nil, err
	}
	auth, err := s.deps.Sessions.Authorization()
	if err != nil {
		return nil, fmt.Errorf("session authorization: %w", err)
	}

	bet, err := s.deps.Backend.PlaceBetWithSession(ctx, external.PlaceBetRequest{
		Trader:      s.cfg.Trader.Hex(),
		Symbol:      symbol,
		BetAmount:   req.BetAmount.String(),
		TargetPrice: targetPrice.String(),
		TargetTime:  req.TargetTime,
		EntryPrice:  entryPrice.String(),
		EntryTime:   entryTime,
		Nonce:       nonce.String(),
		Signature:   hexutil.Encode(sig),
		Session:     auth,
	})
	if err != nil {
		return nil, fmt.Errorf("place bet: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{
		"bet":        bet.ID,
		"symbol":     symbol,
		"amount":     req.BetAmount.String(),
		"multiplier": multiplier,
	})
	if bet.Multiplier != 0 && bet.Multiplier != multiplier {
		log.WithField("backend", bet.Multiplier).Warn("Backend multiplier differs from local calculation")
	}
	log.Info("Bet placed")

	if bet.EntryPrice == "" {
		bet.EntryPrice, bet.EntryTime = entryPrice.String(), entryTime
		bet.TargetPrice, bet.TargetTime = targetPrice.String(), req.TargetTime
	}
	s.tracker.Track(*bet)
	v := ViewOf(*bet)
	return &v, nil
}

// VerifyMultiplier compares the local formula with the backend's for the
// same inputs.
func (s *Service) VerifyMultiplier(ctx context.Context, entryPrice, targetPrice *big.Int, entryTime, targetTime int64) (uint64, error) {
	local := CalculateMultiplier(entryPrice, targetPrice, entryTime, targetTime)
	remote, err := s.deps.Backend.CalculateMultiplier(ctx, external.MultiplierRequest{
		EntryPrice:  entryPrice.String(),
		TargetPrice: targetPrice.String(),
		EntryTime:   entryTime,
		TargetTime:  targetTime,
	})
	if err != nil {
		return local, err
	}
	if remote != local {
		return local, fmt.Errorf("%w: local %d, backend %d", ErrMultiplierMismatch, local, remote)
	}
	return local, nil
}

// History lists the trader's bets with multipliers recomputed locally.
func (s *Service) History(ctx context.Context) ([]BetView, error) {
	bets, err := s.deps.Backend.ListBets(ctx, s.cfg.Trader.Hex())
	if err != nil {
		return nil, err
	}
	out := make([]BetView, 0, len(bets))
	for _, b := range bets {
		out = append(out, ViewOf(b))
	}
	return out, nil
}

// Active returns the tracked ACTIVE bets.
func (s *Service) Active() []BetView {
	bets := s.tracker.Active()
	out := make([]BetView, 0, len(bets))
	for _, b := range bets {
		out = append(out, ViewOf(b))
	}
	return out
}

// ViewOf recomputes b's multiplier from its stored entry and target values.
func ViewOf(b models.Bet) BetView {
	entry, okEntry := new(big.Int).SetString(b.EntryPrice, 10)
	target, okTarget := new(big.Int).SetString(b.TargetPrice, 10)
	if !okEntry || !okTarget || entry.Sign() <= 0 {
		return BetView{Bet: b, Display: DisplayMultiplier(b.Multiplier)}
	}
	m := CalculateMultiplier(entry, target, b.EntryTime, b.TargetTime)
	v := BetView{Bet: b, Recomputed: true, Computed: m, Display: DisplayMultiplier(m)}
	if b.Status == models.BetWon {
		if amount, ok := new(big.Int).SetString(b.BetAmount, 10); ok {
			v.Payout = Payout(amount, m).String()
		}
	}
	return v
}

// FixedPrice converts a decimal price to its 8-decimal fixed-point integer.
func FixedPrice(d decimal.Decimal) *big.Int {
	return d.Shift(grid.PriceDecimals).Round(0).BigInt()
}
