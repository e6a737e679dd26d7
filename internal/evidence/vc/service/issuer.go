package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"didvault/internal/evidence/registry"
	"didvault/internal/evidence/vc/canonical"
	"didvault/internal/evidence/vc/models"
	"didvault/internal/evidence/vc/proof"
	"didvault/internal/identity/did"
	"didvault/internal/wallet"
	dErrors "didvault/pkg/domain-errors"
	audit "didvault/pkg/platform/audit"
)

// Issuer builds, signs, anchors and persists credentials for the connected
// wallet's DID.
type Issuer struct {
	session  Session
	registry registry.Registry
	store    Store
	auditor  AuditPublisher
	logger   *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer
	now      func() time.Time

	trusted *trustedIssuer

	mu   sync.Mutex
	last map[did.DID]time.Time
}

type trustedIssuer struct {
	did     did.DID
	account common.Address
	signer  wallet.Signer
}

type IssuerOption func(*Issuer)

// WithTrustedIssuer signs with signer as issuerDID instead of self-issuing
// with the session wallet. The credential subject is still the session DID.
func WithTrustedIssuer(issuerDID did.DID, signer wallet.Signer) IssuerOption {
	return func(i *Issuer) {
		account, err := did.AddressOf(issuerDID.String())
		if err != nil {
			i.logger.Error("ignoring trusted issuer with invalid DID", "issuer", issuerDID.String(), "error", err)
			return
		}
		i.trusted = &trustedIssuer{did: issuerDID, account: account, signer: signer}
	}
}

// WithRegistry anchors every issued fingerprint.
func WithRegistry(r registry.Registry) IssuerOption {
	return func(i *Issuer) { i.registry = r }
}

func WithStore(s Store) IssuerOption {
	return func(i *Issuer) { i.store = s }
}

func WithAudit(a AuditPublisher) IssuerOption {
	return func(i *Issuer) { i.auditor = a }
}

func WithIssuerLogger(logger *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithIssuerMetrics(m Metrics) IssuerOption {
	return func(i *Issuer) { i.metrics = m }
}

func WithIssuerTracer(t trace.Tracer) IssuerOption {
	return func(i *Issuer) {
		if t != nil {
			i.tracer = t
		}
	}
}

// WithClock overrides the issuance clock.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

func NewIssuer(session Session, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		session: session,
		logger:  slog.Default(),
		tracer:  defaultTracer(),
		now:     time.Now,
		last:    make(map[did.DID]time.Time),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IssuerDID returns the issuer for a session DID.
func (i *Issuer) IssuerDID(subject did.DID) did.DID {
	if i.trusted != nil {
		return i.trusted.did
	}
	return subject
}

// Issue creates a new credential for the connected DID. Every call yields a
// fresh id and a strictly later issuanceDate. Nothing is returned, kept or
// audited as issued unless the account and chain are unchanged after
// signing, anchoring and persisting.
func (i *Issuer) Issue(ctx context.Context) (models.Credential, error) {
	ctx, span := i.tracer.Start(ctx, "vc.Issue")
	start := time.Now()

	cred, err := i.issue(ctx, span)
	endSpan(span, err)

	outcome := "issued"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
	}
	if i.metrics != nil {
		i.metrics.ObserveIssuance(outcome, time.Since(start))
	}
	return cred, err
}

func (i *Issuer) issue(ctx context.Context, span trace.Span) (models.Credential, error) {
	snap := i.session.Snapshot()
	if !snap.Connected() {
		return models.Credential{}, wallet.ErrNotConnected
	}
	span.SetAttributes(attribute.String("subject", snap.DID.String()))

	issuerDID, account, signer, err := i.signerFor(snap)
	if err != nil {
		return models.Credential{}, err
	}

	issuedAt := i.nextIssuance(issuerDID)
	cred := models.Credential{
		Context:      []string{models.ContextCredentialsV1},
		ID:           models.NewCredentialID(),
		Type:         []string{models.TypeVerifiableCredential, models.TypeVerifiedUser},
		Issuer:       issuerDID,
		IssuanceDate: issuedAt.Format(time.RFC3339Nano),
		CredentialSubject: models.Subject{
			ID:         snap.DID,
			IsVerified: true,
		},
	}
	span.SetAttributes(attribute.String("credential_id", cred.ID.String()))

	payload, err := canonical.PayloadOf(cred.Unsigned())
	if err != nil {
		return models.Credential{}, dErrors.Wrap(err, dErrors.CodeInternal, "canonicalize credential")
	}
	if err := i.session.Validate(snap); err != nil {
		return models.Credential{}, i.fail(ctx, snap, cred, err)
	}

	sig, err := wallet.Call(ctx, i.session.Timeout(), i.session.Metrics(), "personal_sign",
		func(ctx context.Context) ([]byte, error) {
			return signer.SignMessage(ctx, account, payload)
		})
	if err != nil {
		return models.Credential{}, i.fail(ctx, snap, cred, wallet.ProviderFailure(err, dErrors.CodeSigningRejected, "sign credential"))
	}
	if err := i.session.Validate(snap); err != nil {
		return models.Credential{}, i.fail(ctx, snap, cred, err)
	}

	recovered, err := proof.Recover(payload, sig)
	if err != nil {
		return models.Credential{}, i.fail(ctx, snap, cred, dErrors.Wrap(err, dErrors.CodeSignatureInvalid, "wallet returned an unusable signature"))
	}
	if recovered != account {
		return models.Credential{}, i.fail(ctx, snap, cred, dErrors.Wrap(proof.ErrSignerMismatch, dErrors.CodeSignatureInvalid, "wallet signed with a different account"))
	}

	p := proof.New(issuerDID, i.now(), sig)
	cred.Proof = &p
	fingerprint := canonical.Fingerprint(payload)

	var anchor *models.Anchor
	if i.registry != nil {
		receipt, err := i.registry.Anchor(ctx, fingerprint, issuerDID)
		if err != nil {
			return models.Credential{}, i.fail(ctx, snap, cred, dErrors.Wrap(err, dErrors.CodeAnchorFailed, "anchor credential fingerprint"))
		}
		anchor = &models.Anchor{TxHash: receipt.TxHash, BlockNumber: receipt.BlockNumber, AnchoredAt: receipt.AnchoredAt}
		if err := i.session.Validate(snap); err != nil {
			i.logger.WarnContext(ctx, "session changed after anchoring, discarding credential",
				"credential_id", cred.ID.String(),
				"fingerprint", fingerprint,
			)
			return models.Credential{}, i.fail(ctx, snap, cred, err)
		}
	}

	if i.store != nil {
		doc, err := json.Marshal(cred)
		if err != nil {
			return models.Credential{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode credential")
		}
		record := models.Record{
			ID:          cred.ID,
			Subject:     snap.DID,
			Issuer:      issuerDID,
			Types:       cred.Type,
			IssuedAt:    issuedAt,
			Fingerprint: fingerprint,
			Anchor:      anchor,
			Document:    doc,
		}
		if err := i.store.Save(ctx, record); err != nil {
			return models.Credential{}, i.fail(ctx, snap, cred, dErrors.Wrap(err, dErrors.CodeInternal, "store credential"))
		}
	}
	if err := i.session.Validate(snap); err != nil {
		i.discard(ctx, cred.ID)
		return models.Credential{}, i.fail(ctx, snap, cred, err)
	}

	i.logger.InfoContext(ctx, "credential issued",
		"credential_id", cred.ID.String(),
		"subject", snap.DID.String(),
		"issuer", issuerDID.String(),
		"fingerprint", fingerprint,
	)
	i.emit(ctx, audit.Event{
		Action:       string(audit.EventCredentialIssued),
		Subject:      snap.DID.String(),
		Account:      snap.Account.Hex(),
		ChainID:      snap.ChainID,
		CredentialID: cred.ID.String(),
	})
	return cred, nil
}

// discard removes a credential persisted for a session that has since moved.
func (i *Issuer) discard(ctx context.Context, id models.CredentialID) {
	if i.store == nil {
		return
	}
	if err := i.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		i.logger.ErrorContext(ctx, "failed to discard credential of expired session",
			"credential_id", id.String(),
			"error", err,
		)
	}
}

func (i *Issuer) signerFor(snap wallet.Snapshot) (did.DID, common.Address, wallet.Signer, error) {
	if i.trusted != nil {
		return i.trusted.did, i.trusted.account, i.trusted.signer, nil
	}
	provider := i.session.Provider()
	if provider == nil {
		return "", common.Address{}, nil, wallet.ErrProviderUnavailable
	}
	return snap.DID, snap.Account, provider, nil
}

// nextIssuance returns the current time, bumped past the previous issuance by
// the same issuer when the clock has not advanced.
func (i *Issuer) nextIssuance(issuer did.DID) time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	t := i.now().UTC()
	if last, ok := i.last[issuer]; ok && !t.After(last) {
		t = last.Add(time.Nanosecond)
	}
	i.last[issuer] = t
	return t
}

func (i *Issuer) fail(ctx context.Context, snap wallet.Snapshot, cred models.Credential, err error) error {
	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) {
		level = slog.LevelInfo
	}
	i.logger.Log(ctx, level, "credential issuance aborted",
		"credential_id", cred.ID.String(),
		"subject", snap.DID.String(),
		"error", err,
	)
	i.emit(ctx, audit.Event{
		Action:       string(audit.EventCredentialIssueFailed),
		Subject:      snap.DID.String(),
		Account:      snap.Account.Hex(),
		ChainID:      snap.ChainID,
		CredentialID: cred.ID.String(),
		Reason:       string(dErrors.CodeOf(err)),
	})
	return err
}

func (i *Issuer) emit(ctx context.Context, event audit.Event) {
	if i.auditor == nil {
		return
	}
	if err := i.auditor.Emit(ctx, event); err != nil {
		i.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
