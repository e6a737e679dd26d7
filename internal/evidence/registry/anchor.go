package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"didvault/internal/identity/did"
	"didvault/pkg/platform/sentinel"
)

// ErrAlreadyAnchored is returned when a fingerprint was anchored before.
var ErrAlreadyAnchored = fmt.Errorf("fingerprint already anchored: %w", sentinel.ErrConflict)

// ErrInvalidFingerprint rejects anything but 0x + 64 hex digits.
var ErrInvalidFingerprint = errors.New("fingerprint must be 0x-prefixed 32-byte hex")

var fingerprintPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidFingerprint checks the 0x + 32-byte hex shape.
func ValidFingerprint(fp string) error {
	if !fingerprintPattern.MatchString(fp) {
		return ErrInvalidFingerprint
	}
	return nil
}

// Receipt describes a recorded anchor.
type Receipt struct {
	Fingerprint string    `json:"fingerprint"`
	Issuer      did.DID   `json:"issuer"`
	TxHash      string    `json:"txHash,omitempty"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	AnchoredAt  time.Time `json:"anchoredAt"`
}

// Registry records credential fingerprints so verifiers can check a
// credential was issued through this service.
type Registry interface {
	Anchor(ctx context.Context, fingerprint string, issuer did.DID) (Receipt, error)
	IsAnchored(ctx context.Context, fingerprint string) (bool, error)
}

// AnchoredIssuer is implemented by registries that remember who anchored a
// fingerprint.
type AnchoredIssuer interface {
	AnchoredBy(ctx context.Context, fingerprint string) (did.DID, bool, error)
}
