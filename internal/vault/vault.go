// Package vault runs the user-facing flows: connecting the wallet onto the
// required network, issuing and verifying credentials, and reacting to wallet
// events with notifications.
package vault

import (
	"context"
	"log/slog"
	"sync"

	"didvault/internal/evidence/vc/models"
	"didvault/internal/network"
	"didvault/internal/notify"
	"didvault/internal/wallet"
	dErrors "didvault/pkg/domain-errors"
	audit "didvault/pkg/platform/audit"
)

// User-facing notification texts.
const (
	MsgConnected       = "Wallet connected."
	MsgNoProvider      = "No wallet provider available."
	MsgConnectFailed   = "Failed to connect wallet."
	MsgSwitchFailed    = "Failed to switch network."
	MsgAddFailed       = "Failed to add network."
	MsgAccountSwitched = "Account switched."
	MsgDisconnected    = "Wallet disconnected."
	MsgIssued          = "Credential issued."
	MsgIssueFailed     = "Failed to issue credential."
)

const changeFeedBuffer = 16

type Session interface {
	Connect(ctx context.Context) (wallet.Identity, error)
	Disconnect()
	Snapshot() wallet.Snapshot
	Validate(snap wallet.Snapshot) error
	Subscribe(buffer int) (<-chan wallet.Change, func())
}

type Guard interface {
	Ensure(ctx context.Context, target network.Descriptor) error
}

type Issuer interface {
	Issue(ctx context.Context) (models.Credential, error)
}

type Verifier interface {
	Verify(ctx context.Context, text string) models.Result
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// View is what a client renders.
type View struct {
	Session          wallet.Snapshot
	Network          network.Descriptor
	LastIssued       *models.Credential
	LastVerification *models.Result
	Notifications    []notify.Notification
}

type Vault struct {
	session  Session
	guard    Guard
	target   network.Descriptor
	issuer   Issuer
	verifier Verifier
	notices  *notify.Center
	auditor  AuditPublisher
	logger   *slog.Logger

	mu               sync.Mutex
	lastIssued       *models.Credential
	lastVerification *models.Result
	cancelReload     context.CancelFunc
	reloads          sync.WaitGroup
}

type Option func(*Vault)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithAudit(a AuditPublisher) Option {
	return func(v *Vault) { v.auditor = a }
}

func WithNotifications(c *notify.Center) Option {
	return func(v *Vault) {
		if c != nil {
			v.notices = c
		}
	}
}

func New(session Session, guard Guard, target network.Descriptor, issuer Issuer, verifier Verifier, opts ...Option) *Vault {
	v := &Vault{
		session:  session,
		guard:    guard,
		target:   target,
		issuer:   issuer,
		verifier: verifier,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.notices == nil {
		v.notices = notify.New(notify.WithLogger(v.logger))
	}
	return v
}

func (v *Vault) Notifications() *notify.Center { return v.notices }

// Dismiss removes an active notification before its TTL.
func (v *Vault) Dismiss(id string) bool { return v.notices.Dismiss(id) }

func (v *Vault) View() View {
	v.mu.Lock()
	defer v.mu.Unlock()
	return View{
		Session:          v.session.Snapshot(),
		Network:          v.target,
		LastIssued:       v.lastIssued,
		LastVerification: v.lastVerification,
		Notifications:    v.notices.Active(),
	}
}

// Connect connects the wallet and then brings it onto the target network.
// A network failure is reported through notifications only: the session
// stays connected with ChainOK false.
func (v *Vault) Connect(ctx context.Context) (wallet.Snapshot, error) {
	id, err := v.session.Connect(ctx)
	if err != nil {
		switch {
		case dErrors.HasCode(err, dErrors.CodeProviderUnavailable):
			v.notices.Error(MsgNoProvider)
		case dErrors.HasCode(err, dErrors.CodeSessionExpired):
			v.logger.InfoContext(ctx, "connect superseded by wallet event")
		default:
			v.notices.Error(MsgConnectFailed)
		}
		v.emit(ctx, audit.Event{
			Action: string(audit.EventConnectFailed),
			Reason: string(dErrors.CodeOf(err)),
		})
		return v.session.Snapshot(), err
	}

	v.notices.Success(MsgConnected)
	snap := v.session.Snapshot()
	v.emit(ctx, audit.Event{
		Action:  string(audit.EventWalletConnected),
		Subject: id.DID.String(),
		Account: id.Account.Hex(),
		ChainID: snap.ChainID,
	})

	_ = v.ensureNetwork(ctx)
	return v.session.Snapshot(), nil
}

// EnsureNetwork re-runs the network check on demand.
func (v *Vault) EnsureNetwork(ctx context.Context) error {
	return v.ensureNetwork(ctx)
}

func (v *Vault) ensureNetwork(ctx context.Context) error {
	start := v.session.Snapshot()
	err := v.guard.Ensure(ctx, v.target)
	switch {
	case err == nil:
		v.emit(ctx, audit.Event{
			Action:  string(audit.EventNetworkConfirmed),
			Subject: start.DID.String(),
			Account: start.Account.Hex(),
			ChainID: v.target.ChainID,
		})
		return nil
	case dErrors.HasCode(err, dErrors.CodeSessionExpired), ctx.Err() != nil:
		v.logger.InfoContext(ctx, "network check went stale", "error", err)
		return err
	case dErrors.HasCode(err, dErrors.CodeNetworkAddFailed):
		v.notices.Error(MsgAddFailed)
	case dErrors.HasCode(err, dErrors.CodeNotConnected):
		return err
	default:
		v.notices.Error(MsgSwitchFailed)
	}
	v.emit(ctx, audit.Event{
		Action:  string(audit.EventNetworkSwitchFailed),
		Subject: start.DID.String(),
		Account: start.Account.Hex(),
		ChainID: v.target.ChainID,
		Reason:  string(dErrors.CodeOf(err)),
	})
	return err
}

func (v *Vault) Disconnect(ctx context.Context) {
	snap := v.session.Snapshot()
	v.session.Disconnect()
	v.clear()
	if snap.Connected() {
		v.emit(ctx, audit.Event{
			Action:  string(audit.EventWalletDisconnected),
			Subject: snap.DID.String(),
			Account: snap.Account.Hex(),
		})
	}
}

// Issue issues a credential and keeps it as the last result unless the
// session moved on meanwhile.
func (v *Vault) Issue(ctx context.Context) (models.Credential, error) {
	start := v.session.Snapshot()
	cred, err := v.issuer.Issue(ctx)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeSessionExpired) {
			v.notices.Error(MsgIssueFailed)
		}
		return models.Credential{}, err
	}
	if err := v.session.Validate(start); err != nil {
		return models.Credential{}, err
	}

	v.mu.Lock()
	v.lastIssued = &cred
	v.mu.Unlock()
	v.notices.Success(MsgIssued)
	return cred, nil
}

// Verify checks text. A result computed while the session changed is
// reported as stale and not kept.
func (v *Vault) Verify(ctx context.Context, text string) models.Result {
	start := v.session.Snapshot()
	result := v.verifier.Verify(ctx, text)
	if err := v.session.Validate(start); err != nil {
		return models.Result{
			Reason:       models.ReasonStale,
			Detail:       "wallet session changed during verification",
			CredentialID: result.CredentialID,
			Issuer:       result.Issuer,
			Fingerprint:  result.Fingerprint,
		}
	}

	v.mu.Lock()
	v.lastVerification = &result
	v.mu.Unlock()
	return result
}

// Run reacts to session changes until ctx ends.
func (v *Vault) Run(ctx context.Context) error {
	changes, unsubscribe := v.session.Subscribe(changeFeedBuffer)
	defer unsubscribe()
	defer v.stopReload()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			v.handle(ctx, change)
		}
	}
}

func (v *Vault) handle(ctx context.Context, change wallet.Change) {
	snap := change.Snapshot
	switch change.Kind {
	case wallet.ChangeAccount:
		v.clear()
		v.notices.Success(MsgAccountSwitched)
		v.emit(ctx, audit.Event{
			Action:  string(audit.EventAccountChanged),
			Subject: snap.DID.String(),
			Account: snap.Account.Hex(),
			ChainID: snap.ChainID,
		})
	case wallet.ChangeDisconnected, wallet.ChangeError:
		v.stopReload()
		v.clear()
		v.notices.Error(MsgDisconnected)
		event := audit.Event{Action: string(audit.EventWalletDisconnected)}
		if snap.Cause != nil {
			event.Reason = snap.Cause.Error()
		}
		v.emit(ctx, event)
	case wallet.ChangeChain:
		v.clear()
		if snap.Connected() {
			v.reload(ctx)
		}
	}
}

// reload re-runs the network check after a chain change. A newer chain
// change cancels the previous reload.
func (v *Vault) reload(ctx context.Context) {
	v.mu.Lock()
	if v.cancelReload != nil {
		v.cancelReload()
	}
	rctx, cancel := context.WithCancel(ctx)
	v.cancelReload = cancel
	v.mu.Unlock()

	v.reloads.Add(1)
	go func() {
		defer v.reloads.Done()
		defer cancel()
		v.logger.InfoContext(rctx, "wallet network changed, reloading")
		_ = v.ensureNetwork(rctx)
	}()
}

func (v *Vault) stopReload() {
	v.mu.Lock()
	if v.cancelReload != nil {
		v.cancelReload()
		v.cancelReload = nil
	}
	v.mu.Unlock()
	v.reloads.Wait()
}

func (v *Vault) clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastIssued = nil
	v.lastVerification = nil
}

func (v *Vault) emit(ctx context.Context, event audit.Event) {
	if v.auditor == nil {
		return
	}
	if err := v.auditor.Emit(ctx, event); err != nil {
		v.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
