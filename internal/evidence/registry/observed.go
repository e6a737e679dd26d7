package registry

import (
	"context"
	"log/slog"
	"time"

	"didvault/internal/identity/did"
)

// Metrics records registry call outcomes.
type Metrics interface {
	ObserveRegistryCall(op string, duration time.Duration, err error)
}

// Observed decorates a Registry with logging and metrics. It keeps the
// AnchoredIssuer capability of the wrapped registry.
type Observed struct {
	next    Registry
	kind    string
	logger  *slog.Logger
	metrics Metrics
}

func NewObserved(next Registry, kind string, logger *slog.Logger, metrics Metrics) *Observed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observed{next: next, kind: kind, logger: logger, metrics: metrics}
}

func (o *Observed) Anchor(ctx context.Context, fingerprint string, issuer did.DID) (Receipt, error) {
	start := time.Now()
	receipt, err := o.next.Anchor(ctx, fingerprint, issuer)
	o.observe(ctx, "anchor", start, err, "fingerprint", fingerprint)
	if err == nil {
		o.logger.InfoContext(ctx, "fingerprint anchored",
			"registry", o.kind,
			"fingerprint", fingerprint,
			"issuer", issuer.String(),
			"tx_hash", receipt.TxHash,
		)
	}
	return receipt, err
}

func (o *Observed) IsAnchored(ctx context.Context, fingerprint string) (bool, error) {
	start := time.Now()
	ok, err := o.next.IsAnchored(ctx, fingerprint)
	o.observe(ctx, "is_anchored", start, err, "fingerprint", fingerprint)
	return ok, err
}

// AnchoredBy reports found=false without error when the wrapped registry
// cannot attribute anchors.
func (o *Observed) AnchoredBy(ctx context.Context, fingerprint string) (did.DID, bool, error) {
	ai, ok := o.next.(AnchoredIssuer)
	if !ok {
		return "", false, nil
	}
	start := time.Now()
	issuer, found, err := ai.AnchoredBy(ctx, fingerprint)
	o.observe(ctx, "anchored_by", start, err, "fingerprint", fingerprint)
	return issuer, found, err
}

// Attributes reports whether the wrapped registry implements AnchoredIssuer.
func (o *Observed) Attributes() bool {
	_, ok := o.next.(AnchoredIssuer)
	return ok
}

func (o *Observed) observe(ctx context.Context, op string, start time.Time, err error, args ...any) {
	if o.metrics != nil {
		o.metrics.ObserveRegistryCall(op, time.Since(start), err)
	}
	if err != nil {
		o.logger.WarnContext(ctx, "registry call failed",
			append([]any{"registry", o.kind, "op", op, "error", err}, args...)...,
		)
	}
}
