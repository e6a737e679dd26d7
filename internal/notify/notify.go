// Package notify holds short-lived user-facing notifications. Each one is
// dismissed automatically after a fixed TTL and every publish or dismissal is
// broadcast to subscribers.
package notify

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 3 * time.Second

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type EventType string

const (
	EventPublished EventType = "published"
	EventDismissed EventType = "dismissed"
)

type Event struct {
	Type         EventType
	Notification Notification
}

type entry struct {
	n     Notification
	timer *time.Timer
}

type Center struct {
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]entry
	subs   map[int]chan Event
	nextID int
	closed bool
}

type Option func(*Center)

func WithTTL(ttl time.Duration) Option {
	return func(c *Center) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Center) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(opts ...Option) *Center {
	c := &Center{
		ttl:    DefaultTTL,
		logger: slog.Default(),
		active: make(map[string]entry),
		subs:   make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Center) TTL() time.Duration { return c.ttl }

// Success publishes a success notification.
func (c *Center) Success(message string) Notification {
	return c.Publish(KindSuccess, message)
}

// Error publishes an error notification.
func (c *Center) Error(message string) Notification {
	return c.Publish(KindError, message)
}

// Publish shows message until the TTL elapses or it is dismissed.
func (c *Center) Publish(kind Kind, message string) Notification {
	now := time.Now().UTC()
	n := Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return n
	}
	id := n.ID
	c.active[id] = entry{n: n, timer: time.AfterFunc(c.ttl, func() { c.Dismiss(id) })}
	c.broadcastLocked(Event{Type: EventPublished, Notification: n})
	return n
}

// Dismiss removes a notification early. It reports whether it was active.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.active[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(c.active, id)
	c.broadcastLocked(Event{Type: EventDismissed, Notification: e.n})
	return true
}

// Active returns the live notifications, oldest first.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	out := make([]Notification, 0, len(c.active))
	for _, e := range c.active {
		out = append(out, e.n)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Subscribe returns a feed of publish and dismiss events. Slow subscribers
// lose events rather than block publishers.
func (c *Center) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Close stops all timers and closes subscriber feeds.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, e := range c.active {
		e.timer.Stop()
		delete(c.active, id)
	}
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func (c *Center) broadcastLocked(ev Event) {
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.logger.Warn("notification subscriber lagging, dropping event",
				"type", string(ev.Type),
				"notification_id", ev.Notification.ID,
			)
		}
	}
}
