package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"didvault/internal/network"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejectedRequest = 4001
	CodeUnauthorized        = 4100
	CodeUnsupportedMethod   = 4200
	CodeDisconnected        = 4900
	CodeChainDisconnected   = 4901
	// CodeUnrecognizedChain is returned by wallet_switchEthereumChain for a
	// chain the wallet has not been told about.
	CodeUnrecognizedChain = 4902
)

// Signer is the signing capability of a wallet: EIP-191 personal_sign over
// message, returning the 65-byte r||s||v signature.
type Signer interface {
	SignMessage(ctx context.Context, account common.Address, message []byte) ([]byte, error)
}

// Provider is the wallet capability consumed by the session, the network guard
// and the issuer. Implementations must be safe for concurrent use and should
// honor ctx; callers bound every call with Await regardless.
type Provider interface {
	Signer

	// RequestAccounts prompts for authorization and returns the exposed accounts.
	RequestAccounts(ctx context.Context) ([]string, error)
	// ChainID returns the active chain as 0x-prefixed hex.
	ChainID(ctx context.Context) (string, error)
	SwitchChain(ctx context.Context, chainID string) error
	AddChain(ctx context.Context, descriptor network.Descriptor) error
	// Events streams provider-pushed changes. The channel is closed when the
	// provider goes away.
	Events() <-chan Event
}

// EventKind enumerates provider-pushed events.
type EventKind int

const (
	EventAccountsChanged EventKind = iota + 1
	EventChainChanged
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventAccountsChanged:
		return "accountsChanged"
	case EventChainChanged:
		return "chainChanged"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is a provider-pushed change.
type Event struct {
	Kind     EventKind
	Accounts []string
	ChainID  string
	Err      error
}

// AccountsChanged builds an accountsChanged event.
func AccountsChanged(accounts ...string) Event {
	return Event{Kind: EventAccountsChanged, Accounts: accounts}
}

// ChainChanged builds a chainChanged event.
func ChainChanged(chainID string) Event {
	return Event{Kind: EventChainChanged, ChainID: chainID}
}

// ProviderError is an EIP-1193 style error reported by a wallet.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ErrorCode matches go-ethereum's rpc.Error so JSON-RPC errors classify the same way.
func (e *ProviderError) ErrorCode() int { return e.Code }

// NewProviderError builds a *ProviderError.
func NewProviderError(code int, message string) error {
	return &ProviderError{Code: code, Message: message}
}

// ProviderCode extracts an EIP-1193 / JSON-RPC error code from err.
func ProviderCode(err error) (int, bool) {
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		return coded.ErrorCode(), true
	}
	return 0, false
}

// IsUserRejected reports a 4001 error.
func IsUserRejected(err error) bool {
	code, ok := ProviderCode(err)
	return ok && code == CodeUserRejectedRequest
}

// IsUnrecognizedChain reports a 4902 error.
func IsUnrecognizedChain(err error) bool {
	code, ok := ProviderCode(err)
	return ok && code == CodeUnrecognizedChain
}
