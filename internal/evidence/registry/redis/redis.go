package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"didvault/internal/evidence/registry"
	"didvault/internal/identity/did"
)

const defaultPrefix = "didvault:anchor:"

// Registry stores anchors as Redis keys written with SETNX, so the first
// anchor for a fingerprint wins across processes.
type Registry struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

type Option func(*Registry)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *Registry) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func New(client *redis.Client, opts ...Option) *Registry {
	r := &Registry{
		client: client,
		prefix: defaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) key(fingerprint string) string {
	return r.prefix + strings.ToLower(fingerprint)
}

func (r *Registry) Anchor(ctx context.Context, fingerprint string, issuer did.DID) (registry.Receipt, error) {
	if err := registry.ValidFingerprint(fingerprint); err != nil {
		return registry.Receipt{}, err
	}
	receipt := registry.Receipt{
		Fingerprint: strings.ToLower(fingerprint),
		Issuer:      issuer,
		AnchoredAt:  r.now().UTC(),
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		return registry.Receipt{}, fmt.Errorf("marshal receipt: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(fingerprint), data, 0).Result()
	if err != nil {
		return registry.Receipt{}, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return registry.Receipt{}, registry.ErrAlreadyAnchored
	}
	return receipt, nil
}

func (r *Registry) IsAnchored(ctx context.Context, fingerprint string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n == 1, nil
}

func (r *Registry) AnchoredBy(ctx context.Context, fingerprint string) (did.DID, bool, error) {
	data, err := r.client.Get(ctx, r.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	var receipt registry.Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return "", false, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return receipt.Issuer, true, nil
}
