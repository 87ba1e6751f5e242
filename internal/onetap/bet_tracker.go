package onetap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/tethra-tap/internal/external"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/kjannette/tethra-tap/internal/scheduler"
	"github.com/sirupsen/logrus"
)

const DefaultBetPoll = 2 * time.Second

// BetObserver is told once about every bet that resolves.
type BetObserver func(b models.Bet)

// BetTracker follows the trader's ACTIVE bets. A bet is only marked
// resolved on an explicit WON, LOST or CANCELLED from the backend: either
// in the list itself or from one GET on the bet after it drops out of the
// ACTIVE subset.
type BetTracker struct {
	backend BetBackend
	trader  string
	poller  *scheduler.Poller
	log     *logrus.Entry

	mu        sync.Mutex
	active    map[string]models.Bet
	resolved  map[string]models.Bet
	observers []BetObserver
	lastErr   error
}

func NewBetTracker(backend BetBackend, trader string, interval time.Duration, log *logger.Logger) *BetTracker {
	if interval <= 0 {
		interval = DefaultBetPoll
	}
	t := &BetTracker{
		backend:  backend,
		trader:   strings.ToLower(trader),
		log:      log.WithComponent("bet-tracker"),
		active:   make(map[string]models.Bet),
		resolved: make(map[string]models.Bet),
	}
	t.poller = scheduler.NewPoller("bet-poller", interval, t.Refresh, log)
	return t
}

func (t *BetTracker) Start() { t.poller.Start() }
func (t *BetTracker) Stop()  { t.poller.Stop() }

func (t *BetTracker) OnResolved(fn BetObserver) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Track starts following a freshly placed bet.
func (t *BetTracker) Track(b models.Bet) {
	if b.ID == "" || b.Status.IsResolved() {
		return
	}
	t.mu.Lock()
	t.active[b.ID] = b
	t.mu.Unlock()
}

// Refresh polls the bet list. A failed list call changes nothing.
func (t *BetTracker) Refresh(ctx context.Context) error {
	bets, err := t.backend.ListBets(ctx, t.trader)
	if err != nil {
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
		return fmt.Errorf("list bets: %w", err)
	}

	listed := make(map[string]models.Bet, len(bets))
	for _, b := range bets {
		listed[b.ID] = b
	}

	t.mu.Lock()
	var settled []models.Bet
	var missing []string
	for id := range t.active {
		b, ok := listed[id]
		switch {
		case ok && b.Status.IsResolved():
			settled = append(settled, b)
		case ok:
			t.active[id] = b
		default:
			missing = append(missing, id)
		}
	}
	for id, b := range listed {
		if _, known := t.active[id]; known {
			continue
		}
		if _, done := t.resolved[id]; done {
			continue
		}
		if b.Status == models.BetActive {
			t.active[id] = b
		}
	}
	t.mu.Unlock()

	for _, id := range missing {
		b, err := t.backend.GetBet(ctx, id)
		switch {
		case errors.Is(err, external.ErrNotFound):
			t.log.WithField("bet", id).Warn("Bet vanished from backend, keeping it active")
		case err != nil:
			t.log.WithError(err).WithField("bet", id).Warn("Bet lookup failed, will retry")
		case b.Status.IsResolved():
			settled = append(settled, *b)
		default:
			t.mu.Lock()
			if _, still := t.active[id]; still {
				t.active[id] = *b
			}
			t.mu.Unlock()
		}
	}

	t.mu.Lock()
	var fresh []models.Bet
	for _, b := range settled {
		if _, still := t.active[b.ID]; !still {
			continue
		}
		delete(t.active, b.ID)
		t.resolved[b.ID] = b
		fresh = append(fresh, b)
	}
	t.lastErr = nil
	observers := append([]BetObserver{}, t.observers...)
	t.mu.Unlock()

	for _, b := range fresh {
		t.log.WithFields(logrus.Fields{"bet": b.ID, "status": b.Status}).Info("Bet resolved")
		for _, fn := range observers {
			fn(b)
		}
	}
	return nil
}

// Active returns the followed ACTIVE bets, soonest target first.
func (t *BetTracker) Active() []models.Bet {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Bet, 0, len(t.active))
	for _, b := range t.active {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetTime != out[j].TargetTime {
			return out[i].TargetTime < out[j].TargetTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *BetTracker) Resolved(id string) (models.Bet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.resolved[id]
	return b, ok
}

func (t *BetTracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}
