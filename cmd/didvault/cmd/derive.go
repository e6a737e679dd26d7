package cmd

import (
	"fmt"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"didvault/internal/identity/did"
)

// NewDeriveCommand prints the did:ethr DID for an account.
func NewDeriveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive <address>",
		Short: "Derive the did:ethr DID for an account address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := did.FromHex(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, id)

			withQR, err := cmd.Flags().GetBool("qr")
			if err != nil {
				return err
			}
			if withQR {
				qr, err := qrcode.New(id.String(), qrcode.Medium)
				if err != nil {
					return fmt.Errorf("encode qr: %w", err)
				}
				fmt.Fprint(out, qr.ToSmallString(false))
			}
			return nil
		},
	}
	cmd.Flags().Bool("qr", false, "Also print the DID as a terminal QR code")
	return cmd
}
