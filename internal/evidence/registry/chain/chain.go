// Package chain anchors fingerprints in an already deployed EVM registry
// contract exposing anchor(bytes32,string) and isAnchored(bytes32).
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"didvault/internal/evidence/registry"
	"didvault/internal/identity/did"
)

// ABI is the subset of the registry contract used here.
const ABI = `[
  {"type":"function","name":"anchor","stateMutability":"nonpayable",
   "inputs":[{"name":"fingerprint","type":"bytes32"},{"name":"issuer","type":"string"}],"outputs":[]},
  {"type":"function","name":"isAnchored","stateMutability":"view",
   "inputs":[{"name":"fingerprint","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	ErrReadOnly = errors.New("registry has no signing key configured")
	ErrReverted = errors.New("anchor transaction reverted")
)

// Backend is what the adapter needs from an Ethereum client.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Registry talks to the contract through a bound ABI.
type Registry struct {
	backend  Backend
	address  common.Address
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Dial connects to rpcURL and binds the contract at address. key may be nil
// for a verify-only registry.
func Dial(ctx context.Context, rpcURL string, address common.Address, key *ecdsa.PrivateKey, opts ...Option) (*Registry, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	return New(client, address, key, chainID, opts...)
}

func New(backend Backend, address common.Address, key *ecdsa.PrivateKey, chainID *big.Int, opts ...Option) (*Registry, error) {
	parsed, err := abi.JSON(strings.NewReader(ABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	r := &Registry{
		backend:  backend,
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		logger:   slog.Default(),
		now:      time.Now,
	}
	if key != nil {
		auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("create transactor: %w", err)
		}
		r.auth = auth
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func toBytes32(fingerprint string) [32]byte {
	return [32]byte(common.HexToHash(fingerprint))
}

func (r *Registry) Anchor(ctx context.Context, fingerprint string, issuer did.DID) (registry.Receipt, error) {
	if err := registry.ValidFingerprint(fingerprint); err != nil {
		return registry.Receipt{}, err
	}
	if r.auth == nil {
		return registry.Receipt{}, ErrReadOnly
	}
	anchored, err := r.IsAnchored(ctx, fingerprint)
	if err != nil {
		return registry.Receipt{}, err
	}
	if anchored {
		return registry.Receipt{}, registry.ErrAlreadyAnchored
	}

	opts := *r.auth
	opts.Context = ctx
	tx, err := r.contract.Transact(&opts, "anchor", toBytes32(fingerprint), issuer.String())
	if err != nil {
		return registry.Receipt{}, fmt.Errorf("send anchor transaction: %w", err)
	}
	r.logger.DebugContext(ctx, "anchor transaction sent",
		"contract", r.address.Hex(),
		"tx_hash", tx.Hash().Hex(),
	)

	receipt, err := bind.WaitMined(ctx, r.backend, tx)
	if err != nil {
		return registry.Receipt{}, fmt.Errorf("wait for anchor transaction: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return registry.Receipt{}, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return registry.Receipt{
		Fingerprint: strings.ToLower(fingerprint),
		Issuer:      issuer,
		TxHash:      tx.Hash().Hex(),
		BlockNumber: block,
		AnchoredAt:  r.now().UTC(),
	}, nil
}

func (r *Registry) IsAnchored(ctx context.Context, fingerprint string) (bool, error) {
	if err := registry.ValidFingerprint(fingerprint); err != nil {
		return false, err
	}
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isAnchored", toBytes32(fingerprint)); err != nil {
		return false, fmt.Errorf("call isAnchored: %w", err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("isAnchored returned %d values", len(out))
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}
