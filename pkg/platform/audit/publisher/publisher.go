// Package publisher emits audit events to a store, either inline or through a
// buffered background worker.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "didvault/pkg/platform/audit"
	"didvault/pkg/platform/audit/worker"
	"didvault/pkg/requestcontext"
)

var (
	ErrBufferFull  = errors.New("audit buffer full")
	ErrCircuitOpen = errors.New("audit store circuit open")
	ErrClosed      = errors.New("audit publisher closed")
	ErrNotListable = errors.New("audit store cannot be queried")
)

// Publisher enriches and persists audit events.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	breaker *breaker
	sampler *Sampler
	now     func() time.Time

	bufferSize int
	inbox      chan audit.Event
	done       chan struct{}

	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

// WithAsyncBuffer persists through a background worker with a buffer of n.
// Emit never blocks in this mode; a full buffer drops the event.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) { p.bufferSize = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithCircuitBreaker stops calling the store after threshold consecutive
// failures until cooldown passes.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(p *Publisher) { p.breaker = newBreaker(threshold, cooldown, time.Now) }
}

func WithSampler(s *Sampler) Option {
	return func(p *Publisher) { p.sampler = s }
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(audit.StoreFunc(p.persist), p.inbox, p.logger)
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit records event. Missing id, timestamp, category and request metadata
// are filled in from ctx.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event = p.enrich(ctx, event)
	if event.Category == audit.CategoryOperations && p.sampler != nil && !p.sampler.Keep(event.Action) {
		p.metrics.sampled()
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.inbox == nil {
		return p.persist(ctx, event)
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		p.metrics.dropped("buffer_full")
		p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
		return ErrBufferFull
	}
}

func (p *Publisher) enrich(ctx context.Context, event audit.Event) audit.Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Client == "" {
		event.Client = requestcontext.Client(ctx)
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	return event
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if p.breaker != nil && !p.breaker.allow() {
		p.metrics.dropped("circuit_open")
		return ErrCircuitOpen
	}
	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.persistFailed()
		if p.breaker != nil && p.breaker.failure() {
			p.metrics.breaker(true)
			p.logger.ErrorContext(ctx, "audit store failing, circuit opened", "error", err)
		}
		return err
	}
	if p.breaker != nil {
		p.breaker.success()
		p.metrics.breaker(false)
	}
	p.metrics.emitted(string(event.Category))
	return nil
}

// List returns the events recorded for a subject DID.
func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	lister, ok := p.store.(audit.Lister)
	if !ok {
		return nil, ErrNotListable
	}
	return lister.ListBySubject(ctx, subject)
}

// Close stops accepting events and, in async mode, waits for the buffer to
// drain.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.inbox != nil {
		close(p.inbox)
	}
	p.mu.Unlock()
	if p.done != nil {
		<-p.done
	}
}
