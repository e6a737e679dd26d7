// Package config loads didvault settings from the environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"

	"didvault/internal/network"
)

const (
	ProviderKeystore = "keystore"
	ProviderRPC      = "rpc"
	ProviderNone     = "none"

	RegistryNone   = "none"
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
	RegistryChain  = "chain"
)

// Config is the daemon configuration.
type Config struct {
	Addr        string `envconfig:"DIDVAULT_ADDR" default:":8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	ProviderKind    string        `envconfig:"PROVIDER_KIND" default:"keystore"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
	Wallet          WalletConfig  `envconfig:"WALLET"`
	Network         NetworkConfig `envconfig:"NETWORK"`

	RegistryKind       string        `envconfig:"REGISTRY_KIND" default:"none"`
	RegistryContract   string        `envconfig:"REGISTRY_CONTRACT"`
	RegistryPrivateKey string        `envconfig:"REGISTRY_PRIVATE_KEY"`
	AmoyRPCURL         string        `envconfig:"AMOY_RPC_URL"`
	RegistryCacheTTL   time.Duration `envconfig:"REGISTRY_CACHE_TTL" default:"10m"`

	DatabaseURL string      `envconfig:"DATABASE_URL"`
	Redis       RedisConfig `envconfig:"REDIS"`
	Kafka       KafkaConfig `envconfig:"KAFKA"`
	AuditBuffer int         `envconfig:"AUDIT_BUFFER" default:"1024"`
	// AuditSampleRate is the kept fraction of operations events.
	AuditSampleRate float64 `envconfig:"AUDIT_SAMPLE_RATE" default:"1"`
	// AuditVerifySampleRate overrides AuditSampleRate for successful verifications.
	AuditVerifySampleRate float64 `envconfig:"AUDIT_VERIFY_SAMPLE_RATE" default:"1"`

	APIJWTSecret      string        `envconfig:"API_JWT_SECRET"`
	RateLimitDisabled bool          `envconfig:"RATE_LIMIT_DISABLED" default:"false"`
	NotifyTTL         time.Duration `envconfig:"NOTIFY_TTL" default:"3s"`
}

// WalletConfig selects the key or remote wallet backing the session.
type WalletConfig struct {
	PrivateKey       string        `envconfig:"PRIVATE_KEY"`
	KeystoreFile     string        `envconfig:"KEYSTORE_FILE"`
	KeystorePassword string        `envconfig:"KEYSTORE_PASSWORD"`
	RPCURL           string        `envconfig:"RPC_URL"`
	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
}

// NetworkConfig overrides fields of the Amoy descriptor.
type NetworkConfig struct {
	ChainID          string   `envconfig:"CHAIN_ID"`
	ChainName        string   `envconfig:"CHAIN_NAME"`
	CurrencyName     string   `envconfig:"CURRENCY_NAME"`
	CurrencySymbol   string   `envconfig:"CURRENCY_SYMBOL"`
	CurrencyDecimals uint8    `envconfig:"CURRENCY_DECIMALS"`
	RPCURLs          []string `envconfig:"RPC_URLS"`
	ExplorerURLs     []string `envconfig:"EXPLORER_URLS"`
}

type RedisConfig struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	AnchorPrefix string        `envconfig:"ANCHOR_PREFIX" default:"didvault:anchor:"`
}

type KafkaConfig struct {
	Brokers       []string `envconfig:"BROKERS"`
	AuditTopic    string   `envconfig:"AUDIT_TOPIC" default:"didvault.audit."`
	ConsumerGroup string   `envconfig:"CONSUMER_GROUP" default:"didvault-audit"`
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{ProviderKeystore, ProviderRPC, ProviderNone}, c.ProviderKind) {
		errs = append(errs, fmt.Errorf("PROVIDER_KIND %q is not one of keystore, rpc, none", c.ProviderKind))
	}
	if c.ProviderKind == ProviderRPC && c.Wallet.RPCURL == "" {
		errs = append(errs, errors.New("WALLET_RPC_URL is required for the rpc provider"))
	}
	if c.ProviderKind == ProviderKeystore && c.Wallet.PrivateKey == "" && c.Wallet.KeystoreFile == "" {
		errs = append(errs, errors.New("WALLET_PRIVATE_KEY or WALLET_KEYSTORE_FILE is required for the keystore provider"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}

	switch c.RegistryKind {
	case RegistryNone, RegistryMemory:
	case RegistryRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis registry"))
		}
	case RegistryChain:
		if c.RegistryContract == "" || c.AmoyRPCURL == "" {
			errs = append(errs, errors.New("REGISTRY_CONTRACT and AMOY_RPC_URL are required for the chain registry"))
		}
	default:
		errs = append(errs, fmt.Errorf("REGISTRY_KIND %q is not one of none, memory, redis, chain", c.RegistryKind))
	}

	if err := c.NetworkDescriptor().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NetworkDescriptor returns Amoy with any NETWORK_* overrides applied.
func (c Config) NetworkDescriptor() network.Descriptor {
	d := network.Amoy
	d.RPCURLs = slices.Clone(d.RPCURLs)
	d.BlockExplorerURLs = slices.Clone(d.BlockExplorerURLs)

	n := c.Network
	if n.ChainID != "" {
		d.ChainID = n.ChainID
	}
	if n.ChainName != "" {
		d.ChainName = n.ChainName
	}
	if n.CurrencyName != "" {
		d.NativeCurrency.Name = n.CurrencyName
	}
	if n.CurrencySymbol != "" {
		d.NativeCurrency.Symbol = n.CurrencySymbol
	}
	if n.CurrencyDecimals != 0 {
		d.NativeCurrency.Decimals = n.CurrencyDecimals
	}
	if len(n.RPCURLs) > 0 {
		d.RPCURLs = n.RPCURLs
	}
	if len(n.ExplorerURLs) > 0 {
		d.BlockExplorerURLs = n.ExplorerURLs
	}
	return d
}

// IsDevelopment reports whether the process runs in a local environment.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "local"
}
