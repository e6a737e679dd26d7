package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"didvault/pkg/platform/middleware/auth"
)

// NewTokenCommand mints an API bearer token signed with API_JWT_SECRET.
func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := cmd.Flags().GetString("secret")
			if err != nil {
				return err
			}
			subject, err := cmd.Flags().GetString("subject")
			if err != nil {
				return err
			}
			ttl, err := cmd.Flags().GetDuration("ttl")
			if err != nil {
				return err
			}
			validator := auth.NewHMACValidator(secret, auth.TokenIssuer, auth.TokenAudience)
			if validator == nil {
				return errors.New("a secret is required (--secret or API_JWT_SECRET)")
			}
			token, err := validator.Mint(subject, ttl, time.Now())
			if err != nil {
				return fmt.Errorf("mint token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("secret", os.Getenv("API_JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().String("subject", "operator", "Token subject")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}
