// Package did derives and parses did:ethr identifiers.
//
// A did:ethr DID is the account address under the "ethr" method, optionally
// scoped to a network: did:ethr:0xAbC… or did:ethr:0x13882:0xAbC…. Derive
// always renders the EIP-55 checksummed address so the same account yields
// byte-identical DIDs regardless of how the provider cased it.
package did

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	Method = "ethr"
	Prefix = "did:" + Method + ":"

	// ControllerFragment names the address-derived key of a did:ethr document.
	ControllerFragment = "controller"
)

// genericSyntax follows the W3C DID core ABNF closely enough for structural
// checks: method names are lowercase alphanumerics, the method-specific id is
// a colon separated list of idchars (pct-encoding allowed).
var genericSyntax = regexp.MustCompile(`^did:[a-z0-9]+:(?:[A-Za-z0-9._-]|%[0-9A-Fa-f]{2})*(?::(?:[A-Za-z0-9._-]|%[0-9A-Fa-f]{2})*)*(?:[A-Za-z0-9._-]|%[0-9A-Fa-f]{2})$`)

var (
	ErrNotDID         = errors.New("not a DID")
	ErrUnsupported    = errors.New("unsupported DID method")
	ErrInvalidAddress = errors.New("invalid account address")
	ErrInvalidNetwork = errors.New("invalid network segment")
)

// DID is a decentralized identifier string.
type DID string

func (d DID) String() string { return string(d) }

// KeyID returns the verification method reference for the DID's controller key.
func (d DID) KeyID() string {
	return string(d) + "#" + ControllerFragment
}

// Derive maps an account to its DID. It is pure and deterministic.
func Derive(account common.Address) DID {
	return DID(Prefix + account.Hex())
}

// FromHex derives the DID for a hex account string as returned by a wallet.
func FromHex(address string) (DID, error) {
	if !common.IsHexAddress(address) || !strings.HasPrefix(strings.ToLower(address), "0x") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return Derive(common.HexToAddress(address)), nil
}

// IsDID reports whether s is syntactically a DID of any method. Fragments and
// queries are not part of a DID and are rejected.
func IsDID(s string) bool {
	return genericSyntax.MatchString(s)
}

// Ethr is a parsed did:ethr reference.
type Ethr struct {
	DID      DID
	Network  string
	Address  common.Address
	Fragment string
}

// Parse parses a did:ethr DID or DID URL (with #fragment). The returned DID
// drops the fragment but keeps the network segment.
func Parse(s string) (Ethr, error) {
	ref, fragment, _ := strings.Cut(s, "#")
	if !IsDID(ref) {
		return Ethr{}, fmt.Errorf("%w: %q", ErrNotDID, s)
	}
	rest, ok := strings.CutPrefix(ref, Prefix)
	if !ok {
		return Ethr{}, fmt.Errorf("%w: %q", ErrUnsupported, s)
	}

	var network, address string
	if n, a, found := strings.Cut(rest, ":"); found {
		network, address = n, a
		if network == "" || strings.Contains(address, ":") {
			return Ethr{}, fmt.Errorf("%w: %q", ErrInvalidNetwork, s)
		}
	} else {
		address = rest
	}

	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return Ethr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Ethr{
		DID:      DID(ref),
		Network:  network,
		Address:  common.HexToAddress(address),
		Fragment: fragment,
	}, nil
}

// AddressOf returns the account controlling a did:ethr DID or DID URL.
func AddressOf(s string) (common.Address, error) {
	parsed, err := Parse(s)
	if err != nil {
		return common.Address{}, err
	}
	return parsed.Address, nil
}

// SameSubject reports whether two did:ethr references name the same account on
// the same network, ignoring address case and fragments.
func SameSubject(a, b string) bool {
	pa, err := Parse(a)
	if err != nil {
		return false
	}
	pb, err := Parse(b)
	if err != nil {
		return false
	}
	return pa.Address == pb.Address && pa.Network == pb.Network
}
