package registry

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"didvault/internal/identity/did"
)

type cachedAnchor struct {
	issuer   did.DID
	found    bool
	storedAt time.Time
}

// Cached answers repeated anchor lookups from memory. Anchors are permanent,
// so only positive results are stored; a miss always reaches the wrapped
// registry. Concurrent lookups for one fingerprint share a single call.
type Cached struct {
	next Registry
	ttl  time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	anchored map[string]time.Time
	issuers  map[string]cachedAnchor
	group    singleflight.Group
}

type CachedOption func(*Cached)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) CachedOption {
	return func(c *Cached) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCached wraps next. A non-positive ttl returns next unchanged.
func NewCached(next Registry, ttl time.Duration, opts ...CachedOption) Registry {
	if ttl <= 0 || next == nil {
		return next
	}
	c := &Cached{
		next:     next,
		ttl:      ttl,
		now:      time.Now,
		anchored: make(map[string]time.Time),
		issuers:  make(map[string]cachedAnchor),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cached) Anchor(ctx context.Context, fingerprint string, issuer did.DID) (Receipt, error) {
	receipt, err := c.next.Anchor(ctx, fingerprint, issuer)
	if err != nil {
		return receipt, err
	}
	now := c.now()
	c.mu.Lock()
	c.anchored[fingerprint] = now
	if _, ok := c.next.(AnchoredIssuer); ok {
		c.issuers[fingerprint] = cachedAnchor{issuer: issuer, found: true, storedAt: now}
	}
	c.mu.Unlock()
	return receipt, nil
}

func (c *Cached) IsAnchored(ctx context.Context, fingerprint string) (bool, error) {
	c.mu.RLock()
	storedAt, ok := c.anchored[fingerprint]
	c.mu.RUnlock()
	if ok && c.fresh(storedAt) {
		return true, nil
	}

	v, err, _ := c.group.Do("is:"+fingerprint, func() (any, error) {
		anchored, err := c.next.IsAnchored(ctx, fingerprint)
		if err != nil || !anchored {
			return anchored, err
		}
		c.mu.Lock()
		c.anchored[fingerprint] = c.now()
		c.mu.Unlock()
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// AnchoredBy reports found=false without error when the wrapped registry
// cannot attribute anchors.
func (c *Cached) AnchoredBy(ctx context.Context, fingerprint string) (did.DID, bool, error) {
	ai, ok := c.next.(AnchoredIssuer)
	if !ok {
		return "", false, nil
	}
	c.mu.RLock()
	entry, ok := c.issuers[fingerprint]
	c.mu.RUnlock()
	if ok && c.fresh(entry.storedAt) {
		return entry.issuer, entry.found, nil
	}

	v, err, _ := c.group.Do("by:"+fingerprint, func() (any, error) {
		issuer, found, err := ai.AnchoredBy(ctx, fingerprint)
		if err != nil {
			return nil, err
		}
		entry := cachedAnchor{issuer: issuer, found: found, storedAt: c.now()}
		if found {
			c.mu.Lock()
			c.issuers[fingerprint] = entry
			c.mu.Unlock()
		}
		return entry, nil
	})
	if err != nil {
		return "", false, err
	}
	entry = v.(cachedAnchor)
	return entry.issuer, entry.found, nil
}

// Purge drops expired entries.
func (c *Cached) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, storedAt := range c.anchored {
		if !c.fresh(storedAt) {
			delete(c.anchored, fp)
		}
	}
	for fp, entry := range c.issuers {
		if !c.fresh(entry.storedAt) {
			delete(c.issuers, fp)
		}
	}
}

// Run purges expired entries every ttl until ctx is done.
func (c *Cached) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Purge()
		}
	}
}

func (c *Cached) fresh(storedAt time.Time) bool {
	return c.now().Sub(storedAt) < c.ttl
}
