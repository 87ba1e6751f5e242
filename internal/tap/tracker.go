package tap

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

var (
	ErrUnknownOrder     = errors.New("unknown order")
	ErrNotCancellable   = errors.New("order can no longer be cancelled")
	ErrActionInProgress = errors.New("an action is already pending for this order")
)

const DefaultOrderPoll = 5 * time.Second

type Action string

const (
	ActionCancel     Action = "cancel"
	ActionCancelCell Action = "cancel-cell"
	ActionCancelAll  Action = "cancel-all"
)

// PendingAction marks a user action the server has not yet reflected.
type PendingAction struct {
	Action Action    `json:"action"`
	Since  time.Time `json:"since"`
}

// OrderView is the server record plus a local overlay. A nil Pending means
// the view is exactly what the server last reported.
type OrderView struct {
	Order   models.TapToTradeOrder `json:"order"`
	Pending *PendingAction         `json:"pending,omitempty"`
}

func (v OrderView) Confirmed() bool { return v.Pending == nil }

// TransitionObserver is told about every status change seen by a poll.
type TransitionObserver func(o models.TapToTradeOrder, from models.OrderStatus)

type overlay struct {
	PendingAction
	settled    bool
	settledGen uint64
}

// Tracker keeps a polled snapshot of the trader's orders.
type Tracker struct {
	backend OrderBackend
	trader  string
	poller  *scheduler.Poller
	log     *logrus.Entry
	now     func() time.Time

	// refreshMu orders whole fetch-and-apply rounds so an older list read
	// never lands after a newer one.
	refreshMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	orders    map[string]models.TapToTradeOrder
	overlays  map[string]*overlay
	observers []TransitionObserver
	lastErr   error
	lastSync  time.Time
}

func NewTracker(backend OrderBackend, trader string, interval time.Duration, log *logger.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultOrderPoll
	}
	t := &Tracker{
		backend:  backend,
		trader:   strings.ToLower(trader),
		log:      log.WithComponent("tracker"),
		now:      time.Now,
		orders:   make(map[string]models.TapToTradeOrder),
		overlays: make(map[string]*overlay),
	}
	t.poller = scheduler.NewPoller("order-poller", interval, t.Refresh, log)
	return t
}

func (t *Tracker) Start() { t.poller.Start() }
func (t *Tracker) Stop()  { t.poller.Stop() }

func (t *Tracker) OnTransition(fn TransitionObserver) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

type transition struct {
	order models.TapToTradeOrder
	from  models.OrderStatus
}

// Refresh fetches the order list and reconciles it into the snapshot. On
// error the previous snapshot is kept. A status the previous one cannot
// reach is treated as stale and ignored.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	fetched, err := t.backend.ListOrders(ctx, t.trader, "")
	if err != nil {
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
		return fmt.Errorf("list orders: %w", err)
	}

	t.mu.Lock()
	var changes []transition
	next := make(map[string]models.TapToTradeOrder, len(fetched))
	for _, o := range fetched {
		prev, seen := t.orders[o.ID]
		if seen && prev.Status != o.Status {
			if prev.Status.IsTerminal() {
				t.log.WithFields(logrus.Fields{
					"order": o.ID,
					"kept":  prev.Status,
					"read":  o.Status,
				}).Warn("Ignoring stale status for settled order")
				next[o.ID] = prev
				continue
			}
			if !models.Reachable(prev.Status, o.Status) {
				t.log.WithFields(logrus.Fields{
					"order": o.ID,
					"kept":  prev.Status,
					"read":  o.Status,
				}).Warn("Ignoring backward order transition reported by backend")
				next[o.ID] = prev
				continue
			}
			changes = append(changes, transition{order: o, from: prev.Status})
		}
		next[o.ID] = o
	}
	t.orders = next
	for id, ov := range t.overlays {
		if ov.settled && ov.settledGen < gen {
			delete(t.overlays, id)
		}
	}
	t.lastErr = nil
	t.lastSync = t.now()
	observers := append([]TransitionObserver{}, t.observers...)
	t.mu.Unlock()

	for _, c := range changes {
		t.log.WithFields(logrus.Fields{
			"order": c.order.ID,
			"from":  c.from,
			"to":    c.order.Status,
		}).Info("Order status changed")
		for _, fn := range observers {
			fn(c.order, c.from)
		}
	}
	return nil
}

// Track adds freshly created orders so their first status change is
// reported even if it lands before the next poll.
func (t *Tracker) Track(orders []models.TapToTradeOrder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range orders {
		if _, ok := t.orders[o.ID]; !ok && o.ID != "" {
			t.orders[o.ID] = o
		}
	}
}

// Orders returns the snapshot newest first.
func (t *Tracker) Orders() []OrderView {
	t.mu.Lock()
	defer t.mu.Unlock()
	views := make([]OrderView, 0, len(t.orders))
	for id, o := range t.orders {
		views = append(views, t.viewLocked(id, o))
	}
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i].Order, views[j].Order
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return views
}

func (t *Tracker) Order(id string) (OrderView, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[id]
	if !ok {
		return OrderView{}, false
	}
	return t.viewLocked(id, o), true
}

func (t *Tracker) viewLocked(id string, o models.TapToTradeOrder) OrderView {
	v := OrderView{Order: o}
	if ov, ok := t.overlays[id]; ok {
		p := ov.PendingAction
		v.Pending = &p
	}
	return v
}

// CountActive counts orders that are not yet terminal. It syncs once if the
// tracker has never completed a poll.
func (t *Tracker) CountActive(ctx context.Context) (int, error) {
	t.mu.Lock()
	synced := !t.lastSync.IsZero()
	t.mu.Unlock()
	if !synced {
		if err := t.Refresh(ctx); err != nil {
			return 0, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, o := range t.orders {
		if !o.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Tracker) LastSync() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSync
}

// CancelOrder cancels one PENDING order.
func (t *Tracker) CancelOrder(ctx context.Context, id string) error {
	t.mu.Lock()
	o, ok := t.orders[id]
	switch {
	case !ok:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	case o.Status != models.OrderPending:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, o.Status)
	case t.overlays[id] != nil:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActionInProgress, id)
	}
	t.mu.Unlock()

	ids := t.begin(ActionCancel, func(o models.TapToTradeOrder) bool { return o.ID == id })
	err := t.backend.CancelOrder(ctx, external.CancelOrderRequest{OrderID: id, Trader: t.trader})
	return t.finish(ctx, ActionCancel, ids, err)
}

// CancelCell cancels every PENDING order of one cell.
func (t *Tracker) CancelCell(ctx context.Context, sessionID, cellID string) error {
	ids := t.begin(ActionCancelCell, func(o models.TapToTradeOrder) bool {
		return o.GridSessionID == sessionID && o.CellID == cellID
	})
	err := t.backend.CancelCell(ctx, external.CancelCellRequest{
		GridSessionID: sessionID,
		CellID:        cellID,
		Trader:        t.trader,
	})
	return t.finish(ctx, ActionCancelCell, ids, err)
}

// CancelAll cancels every PENDING order of a grid session.
func (t *Tracker) CancelAll(ctx context.Context, sessionID string) error {
	ids := t.begin(ActionCancelAll, func(o models.TapToTradeOrder) bool {
		return o.GridSessionID == sessionID
	})
	err := t.backend.CancelGrid(ctx, external.CancelGridRequest{GridSessionID: sessionID, Trader: t.trader})
	return t.finish(ctx, ActionCancelAll, ids, err)
}

func (t *Tracker) begin(action Action, match func(models.TapToTradeOrder) bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	since := t.now()
	var ids []string
	for id, o := range t.orders {
		if o.Status != models.OrderPending || !match(o) {
			continue
		}
		if _, busy := t.overlays[id]; busy {
			continue
		}
		t.overlays[id] = &overlay{PendingAction: PendingAction{Action: action, Since: since}}
		ids = append(ids, id)
	}
	return ids
}

// finish drops the overlays on failure. On success they stay until the
// next completed poll so the view never flips back to PENDING in between.
func (t *Tracker) finish(ctx context.Context, action Action, ids []string, err error) error {
	t.mu.Lock()
	for _, id := range ids {
		if err != nil {
			delete(t.overlays, id)
		} else if ov, ok := t.overlays[id]; ok {
			ov.settled = true
			ov.settledGen = t.gen
		}
	}
	t.mu.Unlock()

	log := t.log.WithFields(logrus.Fields{"action": action, "orders": len(ids)})
	if err != nil {
		log.WithError(err).Warn("Cancel rejected")
		return fmt.Errorf("%s: %w", action, err)
	}
	log.Info("Cancel accepted")
	if err := t.Refresh(ctx); err != nil {
		log.WithError(err).Warn("Refresh after cancel failed, next poll will reconcile")
	}
	return nil
}
