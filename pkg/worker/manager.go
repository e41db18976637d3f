package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/event"
	"github.com/snups/snupsd/pkg/mail"
	"github.com/snups/snupsd/pkg/metrics"
	"github.com/snups/snupsd/pkg/ratelimit"
)

// Deliverer sends a single notification.
type Deliverer interface {
	Deliver(ctx context.Context, cfg config.Mail, req mail.Request) mail.Outcome
}

// Handle tracks a spawned worker until it is reaped.
type Handle struct {
	ID   string
	done chan struct{}
}

// Manager spawns one goroutine per notification. Submit and Reap are called
// from the dispatcher goroutine only.
type Manager struct {
	deliverer Deliverer
	cfg       config.Mail
	events    chan<- event.Event
	limiter   *ratelimit.Limiter
	log       *zap.SugaredLogger

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager creates a worker manager that reports completions on events.
// A nil limiter disables rate limiting.
func NewManager(deliverer Deliverer, cfg config.Mail, events chan<- event.Event, limiter *ratelimit.Limiter, log *zap.SugaredLogger) *Manager {
	return &Manager{
		deliverer: deliverer,
		cfg:       cfg,
		events:    events,
		limiter:   limiter,
		log:       log.Named("worker"),
		handles:   make(map[string]*Handle),
	}
}

// Submit starts a delivery worker for req and returns without waiting for it.
func (m *Manager) Submit(req mail.Request) {
	if !m.limiter.Allow() {
		m.log.Warnw("Notification rate limit reached, dropping notification", "message", req.Body)
		metrics.MailDropped.Inc()
		return
	}

	h := &Handle{ID: uuid.NewString(), done: make(chan struct{})}
	m.mu.Lock()
	m.handles[h.ID] = h
	m.mu.Unlock()
	metrics.WorkersActive.Inc()

	m.log.Infow("Spawned delivery worker", "worker", h.ID, "message", req.Body)
	go m.run(h, req)
}

func (m *Manager) run(h *Handle, req mail.Request) {
	defer func() {
		m.events <- event.WorkerDone(h.ID)
	}()
	defer close(h.done)

	outcome := deliver(m.deliverer, m.cfg, req, m.log.With("worker", h.ID))
	m.log.Debugw("Delivery worker finished", "worker", h.ID, "outcome", outcome.String())
}

// Reap forgets a finished worker. Unknown ids are ignored.
func (m *Manager) Reap(id string) {
	m.mu.Lock()
	h, ok := m.handles[id]
	m.mu.Unlock()
	if !ok {
		m.log.Debugw("Ignoring completion of unknown worker", "worker", id)
		return
	}

	<-h.done

	m.mu.Lock()
	delete(m.handles, id)
	m.mu.Unlock()
	metrics.WorkersActive.Dec()
}

// Active returns the number of spawned and not yet reaped workers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Drain waits until every spawned worker has finished or ctx is done.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	pending := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		pending = append(pending, h)
	}
	m.mu.Unlock()

	for i, h := range pending {
		select {
		case <-h.done:
		case <-ctx.Done():
			return fmt.Errorf("%d delivery workers still running: %w", len(pending)-i, ctx.Err())
		}
	}
	return nil
}

// deliver runs a single delivery and turns a panic into a failed outcome.
func deliver(d Deliverer, cfg config.Mail, req mail.Request, log *zap.SugaredLogger) (outcome mail.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerPanics.Inc()
			log.Errorw("Delivery panicked", "panic", r)
			outcome = mail.Failed(mail.ReasonPanic)
		}
	}()
	return d.Deliver(context.Background(), cfg, req)
}
