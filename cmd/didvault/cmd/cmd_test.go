package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"didvault/internal/evidence/vc/models"
	"didvault/internal/evidence/vc/service"
	"didvault/internal/identity/did"
	"didvault/internal/wallet"
	"didvault/internal/wallet/wallettest"
	"didvault/pkg/platform/middleware/auth"
)

func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func issuedDocument(t *testing.T) []byte {
	t.Helper()
	ctx := context.Background()
	session := wallet.New(wallettest.New(t, 1))
	_, err := session.Connect(ctx)
	require.NoError(t, err)
	cred, err := service.NewIssuer(session).Issue(ctx)
	require.NoError(t, err)
	raw, err := json.Marshal(cred)
	require.NoError(t, err)
	return raw
}

func TestDerive(t *testing.T) {
	addr := "0x8ba1f109551bd432803012645ac136ddd64dba72"

	out, err := execute(t, NewDeriveCommand(), "", addr)
	require.NoError(t, err)
	assert.Equal(t, did.Derive(common.HexToAddress(addr)).String()+"\n", out)

	out, err = execute(t, NewDeriveCommand(), "", "--qr", addr)
	require.NoError(t, err)
	assert.Greater(t, strings.Count(out, "\n"), 10)

	_, err = execute(t, NewDeriveCommand(), "", "8ba1f109551bd432803012645ac136ddd64dba72")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	doc := issuedDocument(t)

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vc.json")
		require.NoError(t, os.WriteFile(path, doc, 0o600))

		out, err := execute(t, NewVerifyCommand(), "", path)
		require.NoError(t, err)

		var result models.Result
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.True(t, result.Valid)
	})

	t.Run("tampered stdin", func(t *testing.T) {
		tampered := strings.Replace(string(doc), `"isVerified":true`, `"isVerified":false`, 1)

		out, err := execute(t, NewVerifyCommand(), tampered, "-")
		assert.ErrorIs(t, err, ErrInvalidCredential)

		var result models.Result
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, models.ReasonSignatureInvalid, result.Reason)
	})

	t.Run("memory registry is rejected", func(t *testing.T) {
		_, err := execute(t, NewVerifyCommand(), string(doc), "--registry", "memory", "-")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, NewVerifyCommand(), "", filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}

func TestKeygen(t *testing.T) {
	t.Run("prints key", func(t *testing.T) {
		out, err := execute(t, NewKeygenCommand(), "")
		require.NoError(t, err)
		assert.Contains(t, out, "did:ethr:0x")
		assert.Contains(t, out, "private key: 0x")
	})

	t.Run("writes keystore", func(t *testing.T) {
		stubPasswords(t, "hunter2", "hunter2")
		dir := t.TempDir()

		out, err := execute(t, NewKeygenCommand(), "", "--keystore", dir, "--light")
		require.NoError(t, err)
		assert.Contains(t, out, "keystore: ")
		assert.NotContains(t, out, "private key")

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("password mismatch", func(t *testing.T) {
		stubPasswords(t, "hunter2", "hunter3")
		_, err := execute(t, NewKeygenCommand(), "", "--keystore", t.TempDir(), "--light")
		assert.ErrorContains(t, err, "do not match")
	})
}

func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	prev := PasswordReader
	t.Cleanup(func() { PasswordReader = prev })
	PasswordReader = func(string) ([]byte, error) {
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
}

func TestToken(t *testing.T) {
	const secret = "cli-test-secret-cli-test-secret"

	out, err := execute(t, NewTokenCommand(), "", "--secret", secret, "--subject", "ops")
	require.NoError(t, err)

	claims, err := auth.NewHMACValidator(secret, auth.TokenIssuer, auth.TokenAudience).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)

	_, err = execute(t, NewTokenCommand(), "", "--secret", "")
	assert.Error(t, err)
}
