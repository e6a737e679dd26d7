// Package keystore is a software wallet backed by a single secp256k1 key. It
// behaves like an injected browser wallet: accounts are exposed after an
// authorization request, unknown chains must be added before switching, and
// changes are pushed on the event stream.
package keystore

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	ethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"didvault/internal/network"
	"didvault/internal/wallet"
)

// DefaultChainID is the chain a fresh wallet starts on (Ethereum mainnet).
const DefaultChainID = "0x1"

const eventBuffer = 16

// Provider implements wallet.Provider over an in-process private key.
type Provider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	logger  *slog.Logger

	mu         sync.Mutex
	chainID    string
	known      map[string]network.Descriptor
	authorized bool
	closed     bool
	events     chan wallet.Event
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

// WithChain sets the starting chain, registering it as known.
func WithChain(chainID string) Option {
	return func(p *Provider) {
		id := strings.ToLower(chainID)
		p.chainID = id
		if _, ok := p.known[id]; !ok {
			p.known[id] = network.Descriptor{ChainID: id}
		}
	}
}

// WithKnownChains pre-registers chains so switching to them needs no add.
func WithKnownChains(descriptors ...network.Descriptor) Option {
	return func(p *Provider) {
		for _, d := range descriptors {
			p.known[strings.ToLower(d.ChainID)] = d
		}
	}
}

// New wraps key as a wallet.
func New(key *ecdsa.PrivateKey, opts ...Option) *Provider {
	p := &Provider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		logger:  slog.Default(),
		chainID: DefaultChainID,
		known:   map[string]network.Descriptor{DefaultChainID: {ChainID: DefaultChainID}},
		events:  make(chan wallet.Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromHex builds a wallet from a hex private key, with or without 0x.
func FromHex(hexKey string, opts ...Option) (*Provider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return New(key, opts...), nil
}

// FromKeystoreFile decrypts a V3 keystore file.
func FromKeystoreFile(path, password string, opts ...Option) (*Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	key, err := ethkeystore.DecryptKey(raw, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return New(key.PrivateKey, opts...), nil
}

// Address is the wallet account.
func (p *Provider) Address() common.Address { return p.address }

func (p *Provider) RequestAccounts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.authorized = true
	p.mu.Unlock()
	return []string{p.address.Hex()}, nil
}

func (p *Provider) ChainID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainID, nil
}

func (p *Provider) SwitchChain(ctx context.Context, chainID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.ToLower(chainID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.known[id]; !ok {
		return wallet.NewProviderError(wallet.CodeUnrecognizedChain, fmt.Sprintf("unrecognized chain %s", chainID))
	}
	if p.chainID == id {
		return nil
	}
	p.chainID = id
	p.emitLocked(wallet.ChainChanged(id))
	p.logger.Debug("keystore wallet switched chain", "chain_id", id)
	return nil
}

func (p *Provider) AddChain(ctx context.Context, descriptor network.Descriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := descriptor.Validate(); err != nil {
		return wallet.NewProviderError(-32602, err.Error())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known[strings.ToLower(descriptor.ChainID)] = descriptor
	return nil
}

func (p *Provider) SignMessage(ctx context.Context, account common.Address, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	authorized := p.authorized
	p.mu.Unlock()
	if !authorized || account != p.address {
		return nil, wallet.NewProviderError(wallet.CodeUnauthorized, "account not authorized")
	}
	return PersonalSign(p.key, message)
}

func (p *Provider) Events() <-chan wallet.Event { return p.events }

// Revoke withdraws the authorization, as a user would from the wallet UI.
func (p *Provider) Revoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.authorized {
		return
	}
	p.authorized = false
	p.emitLocked(wallet.AccountsChanged())
}

// Close ends the event stream.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.events)
}

func (p *Provider) emitLocked(ev wallet.Event) {
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("keystore wallet event dropped", "kind", ev.Kind.String())
	}
}

// PersonalSign produces an EIP-191 personal_sign signature with v in {27, 28}.
func PersonalSign(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
