// Package wallettest provides a scriptable in-memory wallet for tests.
package wallettest

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"didvault/internal/network"
	"didvault/internal/wallet"
	"didvault/internal/wallet/provider/keystore"
)

// Wallet holds several accounts, exposes the active one, and lets tests
// inject failures, block signing and push user-driven events.
type Wallet struct {
	mu         sync.Mutex
	keys       []*ecdsa.PrivateKey
	active     int
	authorized bool
	chainID    string
	known      map[string]bool
	failures   map[string][]error
	signHook   func(ctx context.Context) error
	calls      map[string]int
	events     chan wallet.Event
}

// New creates a wallet with n random accounts on chain 0x1.
func New(t testing.TB, n int) *Wallet {
	t.Helper()
	if n < 1 {
		n = 1
	}
	w := &Wallet{
		chainID:  "0x1",
		known:    map[string]bool{"0x1": true},
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		events:   make(chan wallet.Event, 64),
	}
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		w.keys = append(w.keys, key)
	}
	return w
}

func (w *Wallet) Account(i int) common.Address {
	return crypto.PubkeyToAddress(w.keys[i].PublicKey)
}

func (w *Wallet) Key(i int) *ecdsa.PrivateKey { return w.keys[i] }

// FailNext makes the next call to method return err. Queued per method.
func (w *Wallet) FailNext(method string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[method] = append(w.failures[method], err)
}

// OnSign installs a hook run before every signature. A non-nil error aborts
// the signature.
func (w *Wallet) OnSign(hook func(ctx context.Context) error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signHook = hook
}

// Calls reports how many times method was invoked.
func (w *Wallet) Calls(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[method]
}

// SelectAccount switches the active account and emits accountsChanged.
func (w *Wallet) SelectAccount(i int) {
	w.mu.Lock()
	w.active = i
	w.authorized = true
	w.mu.Unlock()
	w.Emit(wallet.AccountsChanged(w.Account(i).Hex()))
}

// Revoke emits accountsChanged([]).
func (w *Wallet) Revoke() {
	w.mu.Lock()
	w.authorized = false
	w.mu.Unlock()
	w.Emit(wallet.AccountsChanged())
}

// SetChain moves the wallet to chainID as a user would and emits chainChanged.
func (w *Wallet) SetChain(chainID string) {
	id := strings.ToLower(chainID)
	w.mu.Lock()
	w.known[id] = true
	w.chainID = id
	w.mu.Unlock()
	w.Emit(wallet.ChainChanged(id))
}

func (w *Wallet) Emit(ev wallet.Event) { w.events <- ev }

// Close ends the event stream.
func (w *Wallet) Close() { close(w.events) }

func (w *Wallet) enter(method string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[method]++
	if q := w.failures[method]; len(q) > 0 {
		w.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

func (w *Wallet) RequestAccounts(ctx context.Context) ([]string, error) {
	if err := w.enter("eth_requestAccounts"); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.authorized = true
	active := w.active
	w.mu.Unlock()
	return []string{w.Account(active).Hex()}, nil
}

func (w *Wallet) ChainID(ctx context.Context) (string, error) {
	if err := w.enter("eth_chainId"); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, nil
}

func (w *Wallet) SwitchChain(ctx context.Context, chainID string) error {
	if err := w.enter("wallet_switchEthereumChain"); err != nil {
		return err
	}
	id := strings.ToLower(chainID)
	w.mu.Lock()
	if !w.known[id] {
		w.mu.Unlock()
		return wallet.NewProviderError(wallet.CodeUnrecognizedChain, "unrecognized chain")
	}
	changed := w.chainID != id
	w.chainID = id
	w.mu.Unlock()
	if changed {
		w.Emit(wallet.ChainChanged(id))
	}
	return nil
}

func (w *Wallet) AddChain(ctx context.Context, descriptor network.Descriptor) error {
	if err := w.enter("wallet_addEthereumChain"); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.known[strings.ToLower(descriptor.ChainID)] = true
	return nil
}

func (w *Wallet) SignMessage(ctx context.Context, account common.Address, message []byte) ([]byte, error) {
	if err := w.enter("personal_sign"); err != nil {
		return nil, err
	}
	w.mu.Lock()
	hook := w.signHook
	var key *ecdsa.PrivateKey
	for _, k := range w.keys {
		if crypto.PubkeyToAddress(k.PublicKey) == account {
			key = k
		}
	}
	authorized := w.authorized
	w.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if key == nil || !authorized {
		return nil, wallet.NewProviderError(wallet.CodeUnauthorized, "account not authorized")
	}
	return keystore.PersonalSign(key, message)
}

func (w *Wallet) Events() <-chan wallet.Event { return w.events }

var _ wallet.Provider = (*Wallet)(nil)
