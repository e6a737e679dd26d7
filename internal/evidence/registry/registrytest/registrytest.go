// Package registrytest holds the behavior every registry adapter must share.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"didvault/internal/evidence/registry"
	"didvault/internal/identity/did"
	"didvault/pkg/platform/sentinel"
)

var counter atomic.Uint64

// Fingerprint returns a fresh, well-formed fingerprint.
func Fingerprint() string {
	return fmt.Sprintf("0x%064x", counter.Add(1))
}

// Issuer is a fixed issuer DID for conformance runs.
const Issuer = did.DID("did:ethr:0x52908400098527886E0F7030069857D2E4169EE7")

// Run checks reg against the anchoring contract. reg must start empty of the
// fingerprints produced by Fingerprint.
func Run(t *testing.T, reg registry.Registry) {
	t.Run("anchor then lookup", func(t *testing.T) {
		ctx := context.Background()
		fp := Fingerprint()

		anchored, err := reg.IsAnchored(ctx, fp)
		require.NoError(t, err)
		assert.False(t, anchored)

		receipt, err := reg.Anchor(ctx, fp, Issuer)
		require.NoError(t, err)
		assert.Equal(t, fp, receipt.Fingerprint)
		assert.Equal(t, Issuer, receipt.Issuer)
		assert.False(t, receipt.AnchoredAt.IsZero())

		anchored, err = reg.IsAnchored(ctx, fp)
		require.NoError(t, err)
		assert.True(t, anchored)
	})

	t.Run("second anchor conflicts", func(t *testing.T) {
		ctx := context.Background()
		fp := Fingerprint()
		_, err := reg.Anchor(ctx, fp, Issuer)
		require.NoError(t, err)

		_, err = reg.Anchor(ctx, fp, Issuer)
		assert.True(t, errors.Is(err, sentinel.ErrConflict), "got %v", err)
	})

	t.Run("malformed fingerprint", func(t *testing.T) {
		_, err := reg.Anchor(context.Background(), "0x1234", Issuer)
		assert.ErrorIs(t, err, registry.ErrInvalidFingerprint)
	})

	if ai, ok := reg.(registry.AnchoredIssuer); ok {
		t.Run("attribution", func(t *testing.T) {
			ctx := context.Background()
			fp := Fingerprint()
			_, found, err := ai.AnchoredBy(ctx, fp)
			require.NoError(t, err)
			assert.False(t, found)

			_, err = reg.Anchor(ctx, fp, Issuer)
			require.NoError(t, err)
			issuer, found, err := ai.AnchoredBy(ctx, fp)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, Issuer, issuer)
		})
	}
}
