// Package network describes the EVM chain didvault anchors credentials on.
package network

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

// Currency is the chain's native currency as wallet_addEthereumChain expects it.
type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Descriptor is the static description of the target chain. The JSON shape is
// the EIP-3085 wallet_addEthereumChain parameter.
type Descriptor struct {
	ChainID           string   `json:"chainId"`
	ChainName         string   `json:"chainName"`
	NativeCurrency    Currency `json:"nativeCurrency"`
	RPCURLs           []string `json:"rpcUrls"`
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`
}

// Amoy is the Polygon Amoy testnet.
var Amoy = Descriptor{
	ChainID:   "0x13882",
	ChainName: "Polygon Amoy Testnet",
	NativeCurrency: Currency{
		Name:     "MATIC",
		Symbol:   "MATIC",
		Decimals: 18,
	},
	RPCURLs:           []string{"https://rpc-amoy.polygon.technology/"},
	BlockExplorerURLs: []string{"https://www.oklink.com/amoy"},
}

var ErrInvalidDescriptor = errors.New("invalid network descriptor")

// Validate checks the descriptor before it is handed to a wallet.
func (d Descriptor) Validate() error {
	if _, err := ParseChainID(d.ChainID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if strings.TrimSpace(d.ChainName) == "" {
		return fmt.Errorf("%w: chain name is required", ErrInvalidDescriptor)
	}
	if d.NativeCurrency.Symbol == "" {
		return fmt.Errorf("%w: native currency symbol is required", ErrInvalidDescriptor)
	}
	if len(d.RPCURLs) == 0 {
		return fmt.Errorf("%w: at least one rpc url is required", ErrInvalidDescriptor)
	}
	for _, raw := range append(append([]string{}, d.RPCURLs...), d.BlockExplorerURLs...) {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return fmt.Errorf("%w: bad url %q", ErrInvalidDescriptor, raw)
		}
	}
	return nil
}

// ChainIDBig returns the numeric chain id. Validate first.
func (d Descriptor) ChainIDBig() *big.Int {
	n, _ := ParseChainID(d.ChainID)
	return n
}

// ParseChainID parses a 0x-prefixed hexadecimal chain id.
func ParseChainID(s string) (*big.Int, error) {
	digits, ok := strings.CutPrefix(strings.ToLower(s), "0x")
	if !ok || digits == "" {
		return nil, fmt.Errorf("chain id %q must be 0x-prefixed hex", s)
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("chain id %q is not a positive hex number", s)
	}
	return n, nil
}

// FormatChainID renders a chain id the way wallets report it (lowercase, no leading zeros).
func FormatChainID(n *big.Int) string {
	return "0x" + n.Text(16)
}

// SameChain compares two hex chain ids numerically ("0x013882" == "0x13882").
func SameChain(a, b string) bool {
	na, err := ParseChainID(a)
	if err != nil {
		return false
	}
	nb, err := ParseChainID(b)
	if err != nil {
		return false
	}
	return na.Cmp(nb) == 0
}
