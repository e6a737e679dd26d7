package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"didvault/internal/evidence/registry/registrytest"
)

// fakeChain executes the two registry methods in memory and mines every
// transaction immediately.
type fakeChain struct {
	mu       sync.Mutex
	parsed   abi.ABI
	chainID  *big.Int
	anchors  map[[32]byte]string
	receipts map[common.Hash]*types.Receipt
	nonce    uint64
	revert   bool
	callErr  error
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(ABI))
	require.NoError(t, err)
	return &fakeChain{
		parsed:   parsed,
		chainID:  big.NewInt(80002),
		anchors:  make(map[[32]byte]string),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeChain) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	method := f.parsed.Methods["isAnchored"]
	if !bytes.Equal(call.Data[:4], method.ID) {
		return nil, errors.New("unexpected call")
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	_, ok := f.anchors[args[0].([32]byte)]
	return method.Outputs.Pack(ok)
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: big.NewInt(1)}, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(2), nil }

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60000, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	method := f.parsed.Methods["anchor"]
	if !bytes.Equal(tx.Data()[:4], method.ID) {
		return errors.New("unexpected transaction")
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}
	status := types.ReceiptStatusSuccessful
	if f.revert {
		status = types.ReceiptStatusFailed
	} else {
		f.anchors[args[0].([32]byte)] = args[1].(string)
	}
	f.nonce++
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(int64(100 + f.nonce)),
	}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeChain) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

var contractAddress = common.HexToAddress("0x00000000000000000000000000000000000A11CE")

func newRegistry(t *testing.T, backend *fakeChain) *Registry {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	reg, err := New(backend, contractAddress, key, backend.chainID)
	require.NoError(t, err)
	return reg
}

func TestRegistryConformance(t *testing.T) {
	registrytest.Run(t, newRegistry(t, newFakeChain(t)))
}

func TestAnchorReceipt(t *testing.T) {
	backend := newFakeChain(t)
	reg := newRegistry(t, backend)
	fp := registrytest.Fingerprint()

	receipt, err := reg.Anchor(context.Background(), fp, registrytest.Issuer)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TxHash)
	assert.Equal(t, uint64(101), receipt.BlockNumber)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, registrytest.Issuer.String(), backend.anchors[toBytes32(fp)])
}

func TestAnchorReverted(t *testing.T) {
	backend := newFakeChain(t)
	backend.revert = true
	reg := newRegistry(t, backend)

	_, err := reg.Anchor(context.Background(), registrytest.Fingerprint(), registrytest.Issuer)
	assert.ErrorIs(t, err, ErrReverted)
}

func TestReadOnlyRegistry(t *testing.T) {
	backend := newFakeChain(t)
	reg, err := New(backend, contractAddress, nil, backend.chainID)
	require.NoError(t, err)

	_, err = reg.Anchor(context.Background(), registrytest.Fingerprint(), registrytest.Issuer)
	assert.ErrorIs(t, err, ErrReadOnly)

	anchored, err := reg.IsAnchored(context.Background(), registrytest.Fingerprint())
	require.NoError(t, err)
	assert.False(t, anchored)
}

func TestLookupFailure(t *testing.T) {
	backend := newFakeChain(t)
	backend.callErr = errors.New("rpc unavailable")
	reg := newRegistry(t, backend)

	_, err := reg.IsAnchored(context.Background(), registrytest.Fingerprint())
	assert.Error(t, err)
}
