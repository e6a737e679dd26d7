package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"didvault/internal/evidence/registry"
	"didvault/internal/identity/did"
)

// Registry keeps anchors in process memory.
type Registry struct {
	mu      sync.RWMutex
	anchors map[string]registry.Receipt
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		anchors: make(map[string]registry.Receipt),
		now:     time.Now,
	}
}

func (r *Registry) Anchor(ctx context.Context, fingerprint string, issuer did.DID) (registry.Receipt, error) {
	if err := registry.ValidFingerprint(fingerprint); err != nil {
		return registry.Receipt{}, err
	}
	if err := ctx.Err(); err != nil {
		return registry.Receipt{}, err
	}
	key := strings.ToLower(fingerprint)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.anchors[key]; ok {
		return registry.Receipt{}, registry.ErrAlreadyAnchored
	}
	receipt := registry.Receipt{
		Fingerprint: key,
		Issuer:      issuer,
		AnchoredAt:  r.now().UTC(),
	}
	r.anchors[key] = receipt
	return receipt, nil
}

func (r *Registry) IsAnchored(ctx context.Context, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.anchors[strings.ToLower(fingerprint)]
	return ok, nil
}

func (r *Registry) AnchoredBy(ctx context.Context, fingerprint string) (did.DID, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	receipt, ok := r.anchors[strings.ToLower(fingerprint)]
	return receipt.Issuer, ok, nil
}
