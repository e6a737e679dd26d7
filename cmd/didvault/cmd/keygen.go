package cmd

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	ethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"didvault/internal/identity/did"
)

// PasswordReader reads a secret without echo. Replaced in tests.
var PasswordReader = readTerminalPassword

func readTerminalPassword(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("stdin is not a terminal: run keygen interactively to enter a password")
	}
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	raw, err := term.ReadPassword(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return raw, nil
}

// NewKeygenCommand creates a secp256k1 wallet key, printed or written to an
// encrypted keystore directory.
func NewKeygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a wallet key and its DID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := cmd.Flags().GetString("keystore")
			if err != nil {
				return err
			}
			light, err := cmd.Flags().GetBool("light")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if dir == "" {
				key, err := crypto.GenerateKey()
				if err != nil {
					return fmt.Errorf("generate key: %w", err)
				}
				address := crypto.PubkeyToAddress(key.PublicKey)
				fmt.Fprintf(out, "address:     %s\n", address.Hex())
				fmt.Fprintf(out, "did:         %s\n", did.Derive(address))
				fmt.Fprintf(out, "private key: 0x%s\n", hex.EncodeToString(crypto.FromECDSA(key)))
				return nil
			}

			password, err := confirmPassword()
			if err != nil {
				return err
			}
			defer clear(password)

			scryptN, scryptP := ethkeystore.StandardScryptN, ethkeystore.StandardScryptP
			if light {
				scryptN, scryptP = ethkeystore.LightScryptN, ethkeystore.LightScryptP
			}
			account, err := ethkeystore.StoreKey(dir, string(password), scryptN, scryptP)
			if err != nil {
				return fmt.Errorf("store key: %w", err)
			}
			fmt.Fprintf(out, "address:  %s\n", account.Address.Hex())
			fmt.Fprintf(out, "did:      %s\n", did.Derive(account.Address))
			fmt.Fprintf(out, "keystore: %s\n", account.URL.Path)
			return nil
		},
	}
	cmd.Flags().String("keystore", "", "Write an encrypted V3 keystore file into this directory")
	cmd.Flags().Bool("light", false, "Use light scrypt parameters (tests and development)")
	return cmd
}

func confirmPassword() ([]byte, error) {
	password, err := PasswordReader("Keystore password: ")
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, errors.New("password cannot be empty")
	}
	again, err := PasswordReader("Repeat password: ")
	if err != nil {
		clear(password)
		return nil, err
	}
	defer clear(again)
	if !bytes.Equal(password, again) {
		clear(password)
		return nil, errors.New("passwords do not match")
	}
	return password, nil
}
