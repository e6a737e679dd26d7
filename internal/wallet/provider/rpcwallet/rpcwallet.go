// Package rpcwallet talks to an external wallet over JSON-RPC using the
// EIP-1193 method set. Account and chain changes are detected by polling.
package rpcwallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"didvault/internal/network"
	"didvault/internal/wallet"
)

const (
	DefaultPollInterval = 2 * time.Second
	eventBuffer         = 16
)

// Provider implements wallet.Provider over an rpc.Client.
type Provider struct {
	client *rpc.Client
	logger *slog.Logger
	poll   time.Duration

	events    chan wallet.Event
	closeOnce sync.Once

	mu          sync.Mutex
	lastAccount string
	lastChain   string
}

// Option configures a Provider.
type Option func(*Provider)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.poll = d
		}
	}
}

// Dial connects to a wallet endpoint (http, ws or ipc).
func Dial(ctx context.Context, url string, opts ...Option) (*Provider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet rpc: %w", err)
	}
	return New(client, opts...), nil
}

func New(client *rpc.Client, opts ...Option) *Provider {
	p := &Provider{
		client: client,
		logger: slog.Default(),
		poll:   DefaultPollInterval,
		events: make(chan wallet.Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if len(accounts) > 0 {
		p.lastAccount = strings.ToLower(accounts[0])
	}
	p.mu.Unlock()
	return accounts, nil
}

func (p *Provider) ChainID(ctx context.Context) (string, error) {
	var id string
	if err := p.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return "", err
	}
	return id, nil
}

type switchParams struct {
	ChainID string `json:"chainId"`
}

func (p *Provider) SwitchChain(ctx context.Context, chainID string) error {
	return p.client.CallContext(ctx, nil, "wallet_switchEthereumChain", switchParams{ChainID: chainID})
}

func (p *Provider) AddChain(ctx context.Context, descriptor network.Descriptor) error {
	return p.client.CallContext(ctx, nil, "wallet_addEthereumChain", descriptor)
}

func (p *Provider) SignMessage(ctx context.Context, account common.Address, message []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := p.client.CallContext(ctx, &sig, "personal_sign", hexutil.Encode(message), account); err != nil {
		return nil, err
	}
	return sig, nil
}

func (p *Provider) Events() <-chan wallet.Event { return p.events }

// Watch polls the wallet for account and chain changes until ctx is done,
// then closes the event stream.
func (p *Provider) Watch(ctx context.Context) error {
	defer p.closeOnce.Do(func() { close(p.events) })

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Provider) pollOnce(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, p.poll)
	defer cancel()

	var accounts []string
	if err := p.client.CallContext(callCtx, &accounts, "eth_accounts"); err != nil {
		p.logger.DebugContext(ctx, "wallet poll failed", "method", "eth_accounts", "error", err)
	} else {
		current := ""
		if len(accounts) > 0 {
			current = strings.ToLower(accounts[0])
		}
		p.mu.Lock()
		changed := current != p.lastAccount
		p.lastAccount = current
		p.mu.Unlock()
		if changed {
			p.emit(wallet.AccountsChanged(accounts...))
		}
	}

	chainID, err := p.ChainID(callCtx)
	if err != nil {
		p.logger.DebugContext(ctx, "wallet poll failed", "method", "eth_chainId", "error", err)
		return
	}
	p.mu.Lock()
	first := p.lastChain == ""
	changed := !network.SameChain(chainID, p.lastChain)
	p.lastChain = chainID
	p.mu.Unlock()
	if changed && !first {
		p.emit(wallet.ChainChanged(chainID))
	}
}

func (p *Provider) emit(ev wallet.Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("wallet event dropped", "kind", ev.Kind.String())
	}
}

// Close releases the underlying client.
func (p *Provider) Close() { p.client.Close() }
