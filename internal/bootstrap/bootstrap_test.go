package bootstrap

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"didvault/internal/evidence/registry"
	"didvault/internal/platform/config"
	"didvault/internal/wallet/provider/keystore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		p, err := OpenProvider(ctx, config.Config{ProviderKind: config.ProviderNone}, testLogger())
		require.NoError(t, err)
		assert.Nil(t, p.Provider)
		assert.Nil(t, p.Watch)
		p.Close()
	})

	t.Run("keystore from hex", func(t *testing.T) {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		cfg := config.Config{ProviderKind: config.ProviderKeystore}
		cfg.Wallet.PrivateKey = "0x" + hex.EncodeToString(crypto.FromECDSA(key))

		p, err := OpenProvider(ctx, cfg, testLogger())
		require.NoError(t, err)
		t.Cleanup(p.Close)

		ks, ok := p.Provider.(*keystore.Provider)
		require.True(t, ok)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), ks.Address())
	})

	t.Run("bad key", func(t *testing.T) {
		cfg := config.Config{ProviderKind: config.ProviderKeystore}
		cfg.Wallet.PrivateKey = "not-hex"
		_, err := OpenProvider(ctx, cfg, testLogger())
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := OpenProvider(ctx, config.Config{ProviderKind: "ledger"}, testLogger())
		assert.Error(t, err)
	})
}

type nopMetrics struct{ calls int }

func (m *nopMetrics) ObserveRegistryCall(string, time.Duration, error) { m.calls++ }

func TestOpenRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("none disables anchoring", func(t *testing.T) {
		r, err := OpenRegistry(ctx, config.Config{RegistryKind: config.RegistryNone}, nil, testLogger(), &nopMetrics{})
		require.NoError(t, err)
		assert.Nil(t, r.Registry)
		assert.Empty(t, r.Kind)
	})

	t.Run("memory is observed and keeps issuer lookup", func(t *testing.T) {
		m := &nopMetrics{}
		r, err := OpenRegistry(ctx, config.Config{RegistryKind: config.RegistryMemory}, nil, testLogger(), m)
		require.NoError(t, err)
		assert.Equal(t, config.RegistryMemory, r.Kind)
		assert.Nil(t, r.Cache)

		_, isIssuer := r.Registry.(registry.AnchoredIssuer)
		assert.True(t, isIssuer)

		anchored, err := r.IsAnchored(ctx, "0x"+hex.EncodeToString(make([]byte, 32)))
		require.NoError(t, err)
		assert.False(t, anchored)
		assert.Equal(t, 1, m.calls)
	})

	t.Run("redis without client", func(t *testing.T) {
		_, err := OpenRegistry(ctx, config.Config{RegistryKind: config.RegistryRedis}, nil, testLogger(), &nopMetrics{})
		assert.Error(t, err)
	})

	t.Run("chain with bad contract", func(t *testing.T) {
		cfg := config.Config{RegistryKind: config.RegistryChain, RegistryContract: "nope", AmoyRPCURL: "http://127.0.0.1:1"}
		_, err := OpenRegistry(ctx, cfg, nil, testLogger(), &nopMetrics{})
		assert.Error(t, err)
	})
}
