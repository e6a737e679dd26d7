package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"didvault/internal/bootstrap"
	"didvault/internal/evidence/vc/service"
	"didvault/internal/platform/config"
	platformredis "didvault/internal/platform/redis"
)

// ErrInvalidCredential is returned when verification completes with a
// negative result, so the process exits non-zero.
var ErrInvalidCredential = errors.New("credential is not valid")

// NewVerifyCommand verifies a credential document without a wallet.
func NewVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <file|->",
		Short: "Verify a credential document, optionally checking its anchor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			opts := []service.VerifierOption{service.WithVerifierLogger(logger)}

			cfg, err := registryConfig(cmd)
			if err != nil {
				return err
			}
			var rdb *platformredis.Client
			if cfg.RegistryKind == config.RegistryRedis {
				rdb, err = platformredis.New(ctx, cfg.Redis)
				if err != nil {
					return err
				}
				if rdb != nil {
					defer rdb.Close()
				}
			}
			anchors, err := bootstrap.OpenRegistry(ctx, cfg, rdb, logger, nil)
			if err != nil {
				return err
			}
			if anchors.Registry != nil {
				opts = append(opts, service.WithAnchorRegistry(anchors.Registry))
			}

			result := service.NewVerifier(opts...).Verify(ctx, text)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Valid {
				return ErrInvalidCredential
			}
			return nil
		},
	}
	cmd.Flags().String("registry", config.RegistryNone, "Anchor registry: none, redis or chain")
	cmd.Flags().String("redis-url", os.Getenv("REDIS_URL"), "Redis URL for the redis registry")
	cmd.Flags().String("redis-prefix", "didvault:anchor:", "Key prefix for the redis registry")
	cmd.Flags().String("contract", os.Getenv("REGISTRY_CONTRACT"), "Registry contract address for the chain registry")
	cmd.Flags().String("rpc-url", os.Getenv("AMOY_RPC_URL"), "JSON-RPC endpoint for the chain registry")
	cmd.Flags().Duration("timeout", 30*time.Second, "Overall verification timeout")
	return cmd
}

func registryConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	var err error
	if cfg.RegistryKind, err = cmd.Flags().GetString("registry"); err != nil {
		return cfg, err
	}
	if cfg.RegistryKind == config.RegistryMemory {
		return cfg, errors.New("an in-memory registry has no anchors to check offline")
	}
	if cfg.Redis.URL, err = cmd.Flags().GetString("redis-url"); err != nil {
		return cfg, err
	}
	if cfg.Redis.AnchorPrefix, err = cmd.Flags().GetString("redis-prefix"); err != nil {
		return cfg, err
	}
	if cfg.RegistryContract, err = cmd.Flags().GetString("contract"); err != nil {
		return cfg, err
	}
	if cfg.AmoyRPCURL, err = cmd.Flags().GetString("rpc-url"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// readDocument reads path, or stdin for "-", capped one byte past the
// verifier limit so oversize input is still reported by the verifier.
func readDocument(stdin io.Reader, path string) (string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open credential: %w", err)
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(io.LimitReader(r, service.MaxDocumentSize+1))
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	return string(raw), nil
}
