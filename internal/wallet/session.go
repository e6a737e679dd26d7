package wallet

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"didvault/internal/identity/did"
	"didvault/internal/network"
	dErrors "didvault/pkg/domain-errors"
)

// DefaultTimeout bounds every provider call made by the session.
const DefaultTimeout = 30 * time.Second

// Metrics receives session and provider call observations.
type Metrics interface {
	ObserveTransition(from, to State)
	ObserveProviderCall(method string, duration time.Duration, err error)
}

// Session is the single owner of wallet connection state. Provider events and
// user operations both funnel through it; every committed mutation bumps the
// generation so suspended operations can detect they were superseded.
type Session struct {
	provider Provider
	logger   *slog.Logger
	metrics  Metrics
	timeout  time.Duration
	group    singleflight.Group

	mu      sync.RWMutex
	snap    Snapshot
	subs    map[int]chan Change
	nextSub int
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTimeout overrides DefaultTimeout for provider calls.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a disconnected session. provider may be nil, in which case
// Connect reports provider_unavailable.
func New(provider Provider, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		logger:   slog.Default(),
		timeout:  DefaultTimeout,
		subs:     make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider returns the wallet provider, nil when none is available.
func (s *Session) Provider() Provider { return s.provider }

// Timeout returns the provider call bound.
func (s *Session) Timeout() time.Duration { return s.timeout }

// Metrics returns the configured metrics sink, possibly nil.
func (s *Session) Metrics() Metrics { return s.metrics }

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Connect asks the wallet for its accounts and commits the first one.
// Concurrent callers share a single in-flight request.
func (s *Session) Connect(ctx context.Context) (Identity, error) {
	if s.provider == nil {
		return Identity{}, ErrProviderUnavailable
	}
	// The shared prompt outlives any single caller; the provider timeout
	// still bounds it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do("connect", func() (any, error) {
		return s.connect(shared)
	})
	if err != nil {
		return Identity{}, err
	}
	return v.(Identity), nil
}

func (s *Session) connect(ctx context.Context) (Identity, error) {
	s.mu.Lock()
	if s.snap.State == Connected {
		id := s.snap.Identity()
		s.mu.Unlock()
		return id, nil
	}
	next := s.snap
	next.State = Connecting
	next.Cause = nil
	s.commitLocked(next, 0)
	startIdentity, startChain := next.IdentityEpoch, next.ChainEpoch
	s.mu.Unlock()

	account, chainID, err := s.requestIdentity(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.IdentityEpoch != startIdentity || s.snap.State != Connecting {
		// An account event landed while the prompt was open; it wins.
		if s.snap.State == Connected {
			return s.snap.Identity(), nil
		}
		s.logger.InfoContext(ctx, "connect superseded",
			"state", s.snap.State.String(),
		)
		return Identity{}, Expired("wallet session changed while connecting")
	}

	if err != nil {
		next := s.snap
		next.State = Disconnected
		s.commitLocked(next, 0)
		s.logger.WarnContext(ctx, "wallet connect failed", "error", err)
		return Identity{}, err
	}

	next = s.snap
	next.State = Connected
	next.Account = account
	next.DID = did.Derive(account)
	if s.snap.ChainEpoch == startChain && chainID != "" && !network.SameChain(chainID, next.ChainID) {
		next.ChainID = strings.ToLower(chainID)
		next.ChainOK = false
		next.ChainEpoch++
	}
	next.IdentityEpoch++
	s.commitLocked(next, ChangeConnected)
	s.logger.InfoContext(ctx, "wallet connected",
		"did", next.DID.String(),
		"chain_id", next.ChainID,
	)
	return next.Identity(), nil
}

func (s *Session) requestIdentity(ctx context.Context) (common.Address, string, error) {
	accounts, err := Call(ctx, s.timeout, s.metrics, "eth_requestAccounts", s.provider.RequestAccounts)
	if err != nil {
		return common.Address{}, "", ProviderFailure(err, dErrors.CodeUserRejected, "connect wallet")
	}
	if len(accounts) == 0 {
		return common.Address{}, "", dErrors.New(dErrors.CodeProviderError, "wallet returned no accounts")
	}
	if !common.IsHexAddress(accounts[0]) {
		return common.Address{}, "", dErrors.New(dErrors.CodeProviderError, "wallet returned a malformed account")
	}
	chainID, err := Call(ctx, s.timeout, s.metrics, "eth_chainId", s.provider.ChainID)
	if err != nil {
		s.logger.WarnContext(ctx, "could not read chain id on connect", "error", err)
		chainID = ""
	}
	return common.HexToAddress(accounts[0]), chainID, nil
}

// Disconnect drops the local session. The wallet itself keeps its permission.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State == Disconnected {
		return
	}
	s.commitLocked(s.disconnectedLocked(nil), ChangeDisconnected)
}

func (s *Session) disconnectedLocked(cause error) Snapshot {
	next := s.snap
	next.State = Disconnected
	if cause != nil {
		next.State = Errored
	}
	next.Cause = cause
	next.Account = common.Address{}
	next.DID = ""
	next.ChainOK = false
	next.IdentityEpoch++
	return next
}

// Apply commits a provider-pushed event.
func (s *Session) Apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case EventAccountsChanged:
		s.applyAccountsLocked(ev.Accounts)
	case EventChainChanged:
		if ev.ChainID == "" || network.SameChain(ev.ChainID, s.snap.ChainID) {
			return
		}
		next := s.snap
		next.ChainID = strings.ToLower(ev.ChainID)
		next.ChainOK = false
		next.ChainEpoch++
		s.commitLocked(next, ChangeChain)
		s.logger.Info("wallet chain changed", "chain_id", next.ChainID)
	case EventDisconnect:
		cause := ev.Err
		if cause == nil {
			cause = dErrors.New(dErrors.CodeProviderError, "wallet disconnected")
		}
		s.commitLocked(s.disconnectedLocked(cause), ChangeError)
		s.logger.Warn("wallet provider disconnected", "error", cause)
	default:
		s.logger.Warn("ignoring unknown provider event", "kind", int(ev.Kind))
	}
}

func (s *Session) applyAccountsLocked(accounts []string) {
	if len(accounts) == 0 {
		if s.snap.State == Disconnected {
			return
		}
		s.commitLocked(s.disconnectedLocked(nil), ChangeDisconnected)
		s.logger.Info("wallet accounts revoked")
		return
	}
	if !common.IsHexAddress(accounts[0]) {
		s.logger.Warn("ignoring malformed account from wallet")
		return
	}
	account := common.HexToAddress(accounts[0])
	if s.snap.State == Connected && s.snap.Account == account {
		return
	}
	next := s.snap
	next.State = Connected
	next.Cause = nil
	next.Account = account
	next.DID = did.Derive(account)
	next.IdentityEpoch++
	s.commitLocked(next, ChangeAccount)
	s.logger.Info("wallet account changed", "did", next.DID.String())
}

// Run pumps provider events into the session until ctx is done or the
// provider closes its stream.
func (s *Session) Run(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	events := s.provider.Events()
	if events == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				s.Apply(Event{Kind: EventDisconnect, Err: ErrEventsClosed})
				return ErrEventsClosed
			}
			s.Apply(ev)
		}
	}
}

// Validate fails with session_expired if the account or the chain changed
// since snap. Commits that keep both, such as a chain confirmation, pass.
func (s *Session) Validate(snap Snapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap.IdentityEpoch != snap.IdentityEpoch || s.snap.ChainEpoch != snap.ChainEpoch {
		return Expired("wallet session changed during operation")
	}
	return nil
}

// ConfirmChain records a verified switch to chainID. It refuses if the
// identity changed since identityEpoch, or if the chain moved somewhere else
// since chainEpoch.
func (s *Session) ConfirmChain(identityEpoch, chainEpoch uint64, chainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.State != Connected || s.snap.IdentityEpoch != identityEpoch {
		return Expired("wallet account changed during network switch")
	}
	if s.snap.ChainEpoch != chainEpoch && s.snap.ChainID != "" && !network.SameChain(s.snap.ChainID, chainID) {
		return Expired("wallet network changed during network switch")
	}
	if s.snap.ChainOK && network.SameChain(s.snap.ChainID, chainID) {
		return nil
	}
	next := s.snap
	next.ChainID = strings.ToLower(chainID)
	next.ChainOK = true
	s.commitLocked(next, ChangeChainConfirmed)
	return nil
}

// Subscribe returns a feed of committed changes. Slow subscribers lose
// entries rather than block the session.
func (s *Session) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// commitLocked installs next with a fresh generation and publishes kind if
// non-zero. Returns the new generation.
func (s *Session) commitLocked(next Snapshot, kind ChangeKind) uint64 {
	from := s.snap.State
	next.Generation = s.snap.Generation + 1
	s.snap = next
	if s.metrics != nil && from != next.State {
		s.metrics.ObserveTransition(from, next.State)
	}
	if kind != 0 {
		change := Change{Kind: kind, Snapshot: next}
		for id, ch := range s.subs {
			select {
			case ch <- change:
			default:
				s.logger.Warn("session change dropped", "subscriber", id, "kind", kind.String())
			}
		}
	}
	return next.Generation
}
