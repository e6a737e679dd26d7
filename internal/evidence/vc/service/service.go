// Package service issues and verifies did:ethr verifiable credentials.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"didvault/internal/evidence/vc/models"
	"didvault/internal/wallet"
	audit "didvault/pkg/platform/audit"
)

const tracerName = "didvault/internal/evidence/vc/service"

// Session is the part of the wallet session issuance depends on.
type Session interface {
	Snapshot() wallet.Snapshot
	Validate(snap wallet.Snapshot) error
	Provider() wallet.Provider
	Timeout() time.Duration
	Metrics() wallet.Metrics
}

// Store persists issued credentials.
type Store interface {
	Save(ctx context.Context, record models.Record) error
	Delete(ctx context.Context, id models.CredentialID) error
}

// AuditPublisher records issuance and verification outcomes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Metrics records issuance and verification outcomes.
type Metrics interface {
	ObserveIssuance(outcome string, duration time.Duration)
	ObserveVerification(reason string, duration time.Duration)
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
