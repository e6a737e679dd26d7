// Package bootstrap builds the wallet provider and anchor registry selected by
// configuration. Both the daemon and the CLI use it.
package bootstrap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"didvault/internal/evidence/registry"
	"didvault/internal/evidence/registry/chain"
	"didvault/internal/evidence/registry/memory"
	redisregistry "didvault/internal/evidence/registry/redis"
	"didvault/internal/platform/config"
	platformredis "didvault/internal/platform/redis"
	"didvault/internal/wallet"
	"didvault/internal/wallet/provider/keystore"
	"didvault/internal/wallet/provider/rpcwallet"
)

// Provider is the opened wallet provider plus its lifecycle hooks. Watch is
// nil for providers that push events on their own.
type Provider struct {
	wallet.Provider
	Watch func(ctx context.Context) error
	Close func()
}

// OpenProvider builds the wallet provider named by cfg.ProviderKind. The none
// kind returns a zero Provider so the session reports provider_unavailable.
func OpenProvider(ctx context.Context, cfg config.Config, logger *slog.Logger) (Provider, error) {
	target := cfg.NetworkDescriptor()
	switch cfg.ProviderKind {
	case config.ProviderNone:
		return Provider{Close: func() {}}, nil

	case config.ProviderKeystore:
		opts := []keystore.Option{
			keystore.WithLogger(logger),
			keystore.WithKnownChains(target),
		}
		var (
			p   *keystore.Provider
			err error
		)
		if cfg.Wallet.KeystoreFile != "" {
			p, err = keystore.FromKeystoreFile(cfg.Wallet.KeystoreFile, cfg.Wallet.KeystorePassword, opts...)
		} else {
			p, err = keystore.FromHex(cfg.Wallet.PrivateKey, opts...)
		}
		if err != nil {
			return Provider{}, err
		}
		logger.InfoContext(ctx, "keystore wallet loaded", "account", p.Address().Hex())
		return Provider{Provider: p, Close: p.Close}, nil

	case config.ProviderRPC:
		p, err := rpcwallet.Dial(ctx, cfg.Wallet.RPCURL,
			rpcwallet.WithLogger(logger),
			rpcwallet.WithPollInterval(cfg.Wallet.PollInterval),
		)
		if err != nil {
			return Provider{}, err
		}
		return Provider{Provider: p, Watch: p.Watch, Close: p.Close}, nil

	default:
		return Provider{}, fmt.Errorf("unknown provider kind %q", cfg.ProviderKind)
	}
}

// Registry is the opened anchor registry. Kind is empty when anchoring is off.
type Registry struct {
	registry.Registry
	Kind string
	// Cache is set when lookups are cached; its Run loop purges expired entries.
	Cache *registry.Cached
}

// OpenRegistry builds the anchor registry named by cfg.RegistryKind and wraps
// it with logging and metrics. The none kind returns a nil Registry; issued
// credentials are then not anchored and verification skips the anchor check.
func OpenRegistry(ctx context.Context, cfg config.Config, rdb *platformredis.Client, logger *slog.Logger, metrics registry.Metrics) (Registry, error) {
	var (
		next registry.Registry
		err  error
	)
	switch cfg.RegistryKind {
	case config.RegistryNone, "":
		return Registry{}, nil
	case config.RegistryMemory:
		next = memory.New()
	case config.RegistryRedis:
		if rdb == nil {
			return Registry{}, errors.New("redis registry requires REDIS_URL")
		}
		next = redisregistry.New(rdb.Client, redisregistry.WithPrefix(cfg.Redis.AnchorPrefix))
	case config.RegistryChain:
		next, err = openChain(ctx, cfg, logger)
		if err != nil {
			return Registry{}, err
		}
	default:
		return Registry{}, fmt.Errorf("unknown registry kind %q", cfg.RegistryKind)
	}
	out := Registry{
		Registry: registry.NewObserved(next, cfg.RegistryKind, logger, metrics),
		Kind:     cfg.RegistryKind,
	}
	if cfg.RegistryKind != config.RegistryMemory {
		out.Registry = registry.NewCached(out.Registry, cfg.RegistryCacheTTL)
		out.Cache, _ = out.Registry.(*registry.Cached)
	}
	logger.InfoContext(ctx, "anchor registry ready", "kind", cfg.RegistryKind, "cached", out.Cache != nil)
	return out, nil
}

func openChain(ctx context.Context, cfg config.Config, logger *slog.Logger) (*chain.Registry, error) {
	if !common.IsHexAddress(cfg.RegistryContract) {
		return nil, fmt.Errorf("REGISTRY_CONTRACT %q is not an address", cfg.RegistryContract)
	}
	var key *ecdsa.PrivateKey
	if cfg.RegistryPrivateKey != "" {
		k, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.RegistryPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse registry key: %w", err)
		}
		key = k
	}
	return chain.Dial(ctx, cfg.AmoyRPCURL, common.HexToAddress(cfg.RegistryContract), key, chain.WithLogger(logger))
}
