package main

import (
	"os"

	"github.com/spf13/cobra"

	"didvault/cmd/didvault/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "didvault",
		Short: "didvault toolbox",
		Long:  "Offline helpers for did:ethr identifiers, credential verification, keys and API tokens.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cmd.NewDeriveCommand())
	rootCmd.AddCommand(cmd.NewVerifyCommand())
	rootCmd.AddCommand(cmd.NewKeygenCommand())
	rootCmd.AddCommand(cmd.NewTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
