// Package guard brings the connected wallet onto a required network.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"didvault/internal/network"
	"didvault/internal/wallet"
	dErrors "didvault/pkg/domain-errors"
)

// Guard drives wallet_switchEthereumChain, falling back to
// wallet_addEthereumChain once for chains the wallet does not know.
type Guard struct {
	session *wallet.Session
	logger  *slog.Logger
	timeout time.Duration
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTimeout overrides the session's provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func New(session *wallet.Session, opts ...Option) *Guard {
	g := &Guard{
		session: session,
		logger:  slog.Default(),
		timeout: session.Timeout(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ensure switches the wallet to target and records the confirmed chain on
// the session. It is a no-op when the session already confirmed target.
func (g *Guard) Ensure(ctx context.Context, target network.Descriptor) error {
	if err := target.Validate(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid network descriptor")
	}
	provider := g.session.Provider()
	if provider == nil {
		return wallet.ErrProviderUnavailable
	}
	start := g.session.Snapshot()
	if !start.Connected() {
		return wallet.ErrNotConnected
	}
	if start.ChainOK && network.SameChain(start.ChainID, target.ChainID) {
		return nil
	}

	err := g.switchChain(ctx, provider, target.ChainID)
	if wallet.IsUnrecognizedChain(err) {
		g.logger.InfoContext(ctx, "wallet does not know network, adding it",
			"chain_id", target.ChainID,
			"chain_name", target.ChainName,
		)
		if err := g.addChain(ctx, provider, target); err != nil {
			return err
		}
		if err := g.checkIdentity(start); err != nil {
			return err
		}
		err = g.switchChain(ctx, provider, target.ChainID)
		if wallet.IsUnrecognizedChain(err) {
			return dErrors.Wrap(err, dErrors.CodeNetworkAddFailed, "wallet still does not recognize the network after adding it")
		}
	}
	if err != nil {
		return wallet.ProviderFailure(err, dErrors.CodeNetworkSwitchDenied, "switch network")
	}
	if err := g.checkIdentity(start); err != nil {
		return err
	}

	current, err := wallet.Call(ctx, g.timeout, g.session.Metrics(), "eth_chainId", provider.ChainID)
	if err != nil {
		return wallet.ProviderFailure(err, dErrors.CodeProviderError, "read network")
	}
	if !network.SameChain(current, target.ChainID) {
		g.logger.WarnContext(ctx, "wallet reports a different network after switch",
			"expected", target.ChainID,
			"actual", current,
		)
		return wallet.Expired(fmt.Sprintf("wallet moved to %s during network switch", current))
	}
	if err := g.session.ConfirmChain(start.IdentityEpoch, start.ChainEpoch, target.ChainID); err != nil {
		return err
	}
	g.logger.InfoContext(ctx, "network confirmed", "chain_id", target.ChainID)
	return nil
}

func (g *Guard) switchChain(ctx context.Context, provider wallet.Provider, chainID string) error {
	_, err := wallet.Call(ctx, g.timeout, g.session.Metrics(), "wallet_switchEthereumChain",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, provider.SwitchChain(ctx, chainID)
		})
	return err
}

func (g *Guard) addChain(ctx context.Context, provider wallet.Provider, target network.Descriptor) error {
	_, err := wallet.Call(ctx, g.timeout, g.session.Metrics(), "wallet_addEthereumChain",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, provider.AddChain(ctx, target)
		})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, wallet.ErrTimeout), errors.Is(err, context.Canceled):
		return wallet.ProviderFailure(err, dErrors.CodeNetworkAddFailed, "add network")
	default:
		return dErrors.Wrap(err, dErrors.CodeNetworkAddFailed, "add network")
	}
}

func (g *Guard) checkIdentity(start wallet.Snapshot) error {
	now := g.session.Snapshot()
	if !now.Connected() || now.IdentityEpoch != start.IdentityEpoch {
		return wallet.Expired("wallet account changed during network switch")
	}
	return nil
}
