package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"didvault/internal/evidence/registry"
	"didvault/internal/evidence/vc/canonical"
	"didvault/internal/evidence/vc/models"
	"didvault/internal/evidence/vc/proof"
	"didvault/internal/identity/did"
	audit "didvault/pkg/platform/audit"
)

// MaxDocumentSize bounds the candidate text accepted by Verify.
const MaxDocumentSize = 1 << 20

// Verifier checks untrusted credential text. It never returns an error:
// every outcome, including malformed input, is a models.Result.
type Verifier struct {
	registry registry.Registry
	auditor  AuditPublisher
	logger   *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer
	maxSize  int
}

type VerifierOption func(*Verifier)

// WithAnchorRegistry enables the anchoring stage.
func WithAnchorRegistry(r registry.Registry) VerifierOption {
	return func(v *Verifier) { v.registry = r }
}

func WithVerifierAudit(a AuditPublisher) VerifierOption {
	return func(v *Verifier) { v.auditor = a }
}

func WithVerifierLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithVerifierMetrics(m Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

func WithVerifierTracer(t trace.Tracer) VerifierOption {
	return func(v *Verifier) {
		if t != nil {
			v.tracer = t
		}
	}
}

func WithMaxDocumentSize(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.maxSize = n
		}
	}
}

func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		logger:  slog.Default(),
		tracer:  defaultTracer(),
		maxSize: MaxDocumentSize,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// candidate holds the fields the later stages need once the schema passed.
type candidate struct {
	id      string
	issuer  string
	subject string
	proof   models.Proof
}

// Verify runs encoding, schema, signature and anchoring checks in order and
// stops at the first failure.
func (v *Verifier) Verify(ctx context.Context, text string) models.Result {
	ctx, span := v.tracer.Start(ctx, "vc.Verify")
	start := time.Now()

	result, c := v.verify(ctx, text)

	span.SetAttributes(
		attribute.Bool("valid", result.Valid),
		attribute.String("reason", string(result.Reason)),
		attribute.String("credential_id", result.CredentialID),
	)
	span.End()

	label := "valid"
	if !result.Valid {
		label = string(result.Reason)
	}
	if v.metrics != nil {
		v.metrics.ObserveVerification(label, time.Since(start))
	}
	v.record(ctx, result, c)
	return result
}

func (v *Verifier) verify(ctx context.Context, text string) (models.Result, candidate) {
	if strings.TrimSpace(text) == "" {
		return invalid(models.ReasonInvalidEncoding, "input is empty"), candidate{}
	}
	if len(text) > v.maxSize {
		return invalid(models.ReasonInvalidEncoding, fmt.Sprintf("input exceeds %d bytes", v.maxSize)), candidate{}
	}
	doc, err := canonical.Decode([]byte(text))
	if err != nil {
		return invalid(models.ReasonInvalidEncoding, err.Error()), candidate{}
	}

	c, detail := checkSchema(doc)
	result := models.Result{CredentialID: c.id, Issuer: c.issuer}
	if detail != "" {
		return failed(result, models.ReasonSchemaViolation, detail), c
	}

	payload, err := canonical.Payload(doc)
	if err != nil {
		return failed(result, models.ReasonInvalidEncoding, err.Error()), c
	}
	result.Fingerprint = canonical.Fingerprint(payload)

	if c.proof.Type != proof.Type {
		return failed(result, models.ReasonSignatureInvalid, fmt.Sprintf("unsupported proof type %q", c.proof.Type)), c
	}
	if !did.SameSubject(c.proof.VerificationMethod, c.issuer) {
		return failed(result, models.ReasonSignatureInvalid, "verificationMethod does not belong to issuer"), c
	}
	if err := proof.Verify(payload, c.proof); err != nil {
		return failed(result, models.ReasonSignatureInvalid, err.Error()), c
	}

	if v.registry == nil {
		result.Valid = true
		return result, c
	}
	return v.checkAnchor(ctx, result), c
}

func (v *Verifier) checkAnchor(ctx context.Context, result models.Result) models.Result {
	if ctx.Err() != nil {
		return failed(result, models.ReasonStale, "verification cancelled")
	}
	anchored, err := v.registry.IsAnchored(ctx, result.Fingerprint)
	if ctx.Err() != nil {
		return failed(result, models.ReasonStale, "verification cancelled")
	}
	if err != nil {
		v.logger.WarnContext(ctx, "anchor lookup failed", "fingerprint", result.Fingerprint, "error", err)
		return failed(result, models.ReasonRegistryUnavailable, "anchor registry unavailable")
	}
	if !anchored {
		return failed(result, models.ReasonNotAnchored, "fingerprint is not anchored")
	}

	attributing, ok := v.registry.(registry.AnchoredIssuer)
	if !ok {
		result.Valid = true
		return result
	}
	by, found, err := attributing.AnchoredBy(ctx, result.Fingerprint)
	if ctx.Err() != nil {
		return failed(result, models.ReasonStale, "verification cancelled")
	}
	if err != nil {
		v.logger.WarnContext(ctx, "anchor attribution failed", "fingerprint", result.Fingerprint, "error", err)
		return failed(result, models.ReasonRegistryUnavailable, "anchor registry unavailable")
	}
	if found && !did.SameSubject(by.String(), result.Issuer) {
		return failed(result, models.ReasonNotAnchored, "fingerprint was anchored by a different issuer")
	}
	result.Valid = true
	return result
}

// checkSchema returns a non-empty detail when doc is not a credential this
// service can check.
func checkSchema(doc map[string]any) (candidate, string) {
	var c candidate
	c.id, _ = doc["id"].(string)

	switch issuer := doc["issuer"].(type) {
	case string:
		c.issuer = issuer
	case map[string]any:
		c.issuer, _ = issuer["id"].(string)
	}

	subject, ok := doc["credentialSubject"].(map[string]any)
	if !ok || len(subject) == 0 {
		return c, "credentialSubject must be a non-empty object"
	}
	c.subject, _ = subject["id"].(string)
	if !did.IsDID(c.subject) {
		return c, "credentialSubject.id must be a DID"
	}

	rawProof, ok := doc["proof"].(map[string]any)
	if !ok || len(rawProof) == 0 {
		return c, "proof must be a non-empty object"
	}
	for _, field := range []string{"type", "verificationMethod", "signatureValue"} {
		s, ok := rawProof[field].(string)
		if !ok || s == "" {
			return c, fmt.Sprintf("proof.%s must be a non-empty string", field)
		}
	}
	c.proof = models.Proof{
		Type:               rawProof["type"].(string),
		VerificationMethod: rawProof["verificationMethod"].(string),
		SignatureValue:     rawProof["signatureValue"].(string),
	}
	c.proof.Created, _ = rawProof["created"].(string)
	c.proof.ProofPurpose, _ = rawProof["proofPurpose"].(string)

	if !hasType(doc["type"], models.TypeVerifiableCredential) {
		return c, "type must include " + models.TypeVerifiableCredential
	}
	if !did.IsDID(c.issuer) {
		return c, "issuer must be a DID"
	}
	return c, ""
}

func hasType(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case []any:
		return slices.ContainsFunc(t, func(e any) bool {
			s, ok := e.(string)
			return ok && s == want
		})
	}
	return false
}

func invalid(reason models.Reason, detail string) models.Result {
	return models.Result{Reason: reason, Detail: detail}
}

func failed(r models.Result, reason models.Reason, detail string) models.Result {
	r.Valid = false
	r.Reason = reason
	r.Detail = detail
	return r
}

func (v *Verifier) record(ctx context.Context, result models.Result, c candidate) {
	if v.auditor == nil {
		return
	}
	event := audit.Event{
		Action:       string(audit.EventCredentialVerified),
		Subject:      c.subject,
		CredentialID: result.CredentialID,
	}
	if !result.Valid {
		event.Action = string(audit.EventCredentialRejected)
		event.Reason = string(result.Reason)
	}
	if err := v.auditor.Emit(ctx, event); err != nil {
		v.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
