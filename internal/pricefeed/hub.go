package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultRecordInterval = time.Minute
	readTimeout           = 60 * time.Second
	handshakeTimeout      = 10 * time.Second
)

// Listener receives the symbols changed by one update.
type Listener func(updates map[string]models.PriceData)

// Seeder supplies an initial snapshot before the stream connects.
type Seeder interface {
	AllPrices(ctx context.Context) (map[string]models.PriceData, error)
}

// Recorder journals price observations.
type Recorder interface {
	Record(ctx context.Context, p *models.PricePoint) error
}

type message struct {
	Type string                      `json:"type"`
	Data map[string]models.PriceData `json:"data"`
}

// Hub shares one price stream between any number of listeners. The
// connection is opened by the first Subscribe and closed when the last
// listener unsubscribes.
type Hub struct {
	url            string
	dialer         websocket.Dialer
	reconnectDelay time.Duration
	recordInterval time.Duration
	seeder         Seeder
	recorder       Recorder
	log            *logrus.Entry

	mu        sync.RWMutex
	prices    map[string]models.PriceData
	recorded  map[string]time.Time
	listeners map[uint64]Listener
	nextID    uint64
	cancel    context.CancelFunc
	connected bool
}

type Option func(*Hub)

func WithReconnectDelay(d time.Duration) Option {
	return func(h *Hub) { h.reconnectDelay = d }
}

func WithSeeder(s Seeder) Option {
	return func(h *Hub) { h.seeder = s }
}

func WithRecorder(r Recorder, every time.Duration) Option {
	return func(h *Hub) {
		h.recorder = r
		if every > 0 {
			h.recordInterval = every
		}
	}
}

func NewHub(wsURL string, log *logger.Logger, opts ...Option) *Hub {
	h := &Hub{
		url:            wsURL,
		dialer:         websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		reconnectDelay: defaultReconnectDelay,
		recordInterval: defaultRecordInterval,
		log:            log.WithComponent("pricefeed"),
		prices:         make(map[string]models.PriceData),
		recorded:       make(map[string]time.Time),
		listeners:      make(map[uint64]Listener),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers fn and returns its unsubscribe function. A cached
// snapshot, if any, is delivered to fn right away.
func (h *Hub) Subscribe(fn Listener) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	if len(h.listeners) == 1 && h.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.run(ctx)
	}
	snap := h.snapshotLocked()
	h.mu.Unlock()

	if len(snap) > 0 {
		fn(snap)
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(id) })
	}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, id)
	if len(h.listeners) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
		h.log.Debug("Last listener gone, closing price stream")
	}
}

// Snapshot returns a copy of the latest price per symbol.
func (h *Hub) Snapshot() map[string]models.PriceData {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked()
}

func (h *Hub) snapshotLocked() map[string]models.PriceData {
	out := make(map[string]models.PriceData, len(h.prices))
	for k, v := range h.prices {
		out[k] = v
	}
	return out
}

func (h *Hub) Latest(symbol string) (models.PriceData, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.prices[strings.ToUpper(symbol)]
	return p, ok
}

func (h *Hub) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connected
}

func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close drops every listener and stops the stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = make(map[uint64]Listener)
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Hub) run(ctx context.Context) {
	if h.seeder != nil {
		seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		prices, err := h.seeder.AllPrices(seedCtx)
		cancel()
		if err != nil {
			h.log.WithError(err).Warn("Price seed failed")
		} else {
			h.apply(prices)
		}
	}

	for {
		err := h.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		h.log.WithError(err).WithField("retry_in", h.reconnectDelay.String()).Warn("Price stream closed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(h.reconnectDelay):
		}
	}
}

func (h *Hub) stream(ctx context.Context) error {
	conn, _, err := h.dialer.DialContext(ctx, h.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	h.setConnected(true)
	h.log.WithField("url", h.url).Info("Price stream connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		conn.Close()
		h.setConnected(false)
	}()
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		h.handle(ctx, raw)
	}
}

func (h *Hub) setConnected(v bool) {
	h.mu.Lock()
	h.connected = v
	h.mu.Unlock()
}

func (h *Hub) handle(ctx context.Context, raw []byte) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.WithError(err).Debug("Ignoring malformed price message")
		return
	}
	if msg.Type != "price_update" || len(msg.Data) == 0 {
		return
	}
	updates := h.apply(msg.Data)
	h.record(ctx, updates)
}

// apply caches updates and fans them out to listeners outside the lock.
func (h *Hub) apply(data map[string]models.PriceData) map[string]models.PriceData {
	updates := make(map[string]models.PriceData, len(data))
	h.mu.Lock()
	for sym, p := range data {
		sym = strings.ToUpper(sym)
		p.Symbol = sym
		h.prices[sym] = p
		updates[sym] = p
	}
	listeners := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.Unlock()

	for _, l := range listeners {
		l(updates)
	}
	return updates
}

func (h *Hub) record(ctx context.Context, updates map[string]models.PriceData) {
	if h.recorder == nil {
		return
	}
	now := time.Now()
	for sym, p := range updates {
		h.mu.Lock()
		due := now.Sub(h.recorded[sym]) >= h.recordInterval
		if due {
			h.recorded[sym] = now
		}
		h.mu.Unlock()
		if !due {
			continue
		}

		ts := now
		if p.Timestamp > 0 {
			ts = time.UnixMilli(p.Timestamp)
		}
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := h.recorder.Record(rctx, &models.PricePoint{
			Symbol:    sym,
			Timestamp: ts,
			Price:     p.Price,
			Source:    p.Source,
		})
		cancel()
		if err != nil {
			h.log.WithError(err).WithField("symbol", sym).Warn("Failed to record price")
		}
	}
}
