package wallet

import (
	"github.com/ethereum/go-ethereum/common"

	"didvault/internal/identity/did"
)

// State is the connection state of a wallet session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Identity is the account currently exposed by the wallet and its DID.
type Identity struct {
	Account common.Address
	DID     did.DID
}

// Snapshot is an immutable copy of the session taken at one generation.
type Snapshot struct {
	State   State
	Account common.Address
	DID     did.DID
	// ChainID is the last chain reported by the wallet, 0x hex.
	ChainID string
	// ChainOK is set once a network switch to ChainID has been confirmed.
	ChainOK bool
	Cause   error

	Generation    uint64
	IdentityEpoch uint64
	ChainEpoch    uint64
}

func (s Snapshot) Connected() bool { return s.State == Connected }

func (s Snapshot) Identity() Identity {
	return Identity{Account: s.Account, DID: s.DID}
}

// ChangeKind classifies entries on the session change feed.
type ChangeKind int

const (
	// ChangeConnected follows a Connect call.
	ChangeConnected ChangeKind = iota + 1
	// ChangeAccount follows an account pushed by the wallet, including one
	// that reconnects a disconnected session.
	ChangeAccount
	ChangeDisconnected
	ChangeChain
	ChangeChainConfirmed
	ChangeError
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeConnected:
		return "connected"
	case ChangeAccount:
		return "account_changed"
	case ChangeDisconnected:
		return "disconnected"
	case ChangeChain:
		return "chain_changed"
	case ChangeChainConfirmed:
		return "chain_confirmed"
	case ChangeError:
		return "error"
	default:
		return "unknown"
	}
}

// Change is published after every committed session transition.
type Change struct {
	Kind     ChangeKind
	Snapshot Snapshot
}
