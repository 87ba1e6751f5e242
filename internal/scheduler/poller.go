package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/sirupsen/logrus"
)

// Task is one polling tick. An error is logged and the next tick retries.
type Task func(ctx context.Context) error

// Poller runs a Task on a fixed interval in its own goroutine. Ticks never
// overlap: a manual FetchNow waits for a running tick and vice versa.
type Poller struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	task     Task
	log      *logrus.Entry

	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	lastRun time.Time
	lastErr error
	runs    int
}

func NewPoller(name string, interval time.Duration, task Task, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		name:     name,
		interval: interval,
		timeout:  30 * time.Second,
		task:     task,
		log:      log.WithComponent(name),
	}
}

// SetTimeout bounds each tick.
func (p *Poller) SetTimeout(d time.Duration) {
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
}

// Start runs one tick immediately, then one per interval until Stop.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.log.Debug("Already running")
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stopCh, done := p.stopCh, p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.tick()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}()

	p.log.WithField("interval", p.interval.String()).Info("Poller started")
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	done := p.done
	p.mu.Unlock()

	<-done
	p.log.Info("Poller stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// FetchNow runs the task outside the schedule and returns its error.
func (p *Poller) FetchNow(ctx context.Context) error {
	return p.run(ctx)
}

func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Poller) LastRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}

func (p *Poller) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

func (p *Poller) tick() {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.run(ctx); err != nil {
		p.log.WithError(err).Warn("Poll failed")
	}
}

func (p *Poller) run(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	err := p.task(ctx)

	p.mu.Lock()
	p.lastRun = time.Now()
	p.lastErr = err
	p.runs++
	p.mu.Unlock()
	return err
}
