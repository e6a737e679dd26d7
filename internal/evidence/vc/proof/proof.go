// Package proof implements EcdsaSecp256k1RecoverySignature2020 proofs made
// with an EIP-191 personal_sign over the canonical credential payload.
package proof

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"didvault/internal/evidence/vc/models"
	"didvault/internal/identity/did"
)

// Type is the only proof suite produced and accepted.
const Type = "EcdsaSecp256k1RecoverySignature2020"

var (
	ErrUnsupportedType    = errors.New("unsupported proof type")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrSignerMismatch     = errors.New("signature was not produced by the verification method")
)

// New assembles a proof for a signature by issuer.
func New(issuer did.DID, created time.Time, signature []byte) models.Proof {
	return models.Proof{
		Type:               Type,
		Created:            created.UTC().Format(time.RFC3339Nano),
		ProofPurpose:       models.ProofPurposeAssertion,
		VerificationMethod: issuer.KeyID(),
		SignatureValue:     hexutil.Encode(signature),
	}
}

// Recover returns the account whose personal_sign over payload produced sig.
// v may be 27/28 or 0/1.
func Recover(payload, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	v := normalized[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id", ErrMalformedSignature)
	}
	normalized[crypto.RecoveryIDOffset] = v

	pub, err := crypto.SigToPub(accounts.TextHash(payload), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverHex is Recover for a 0x-hex signatureValue.
func RecoverHex(payload []byte, signatureValue string) (common.Address, error) {
	sig, err := hexutil.Decode(signatureValue)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return Recover(payload, sig)
}

// Verify checks that p is a supported proof whose verification method is
// controlled by the account that signed payload.
func Verify(payload []byte, p models.Proof) error {
	if p.Type != Type {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, p.Type)
	}
	expected, err := did.AddressOf(p.VerificationMethod)
	if err != nil {
		return err
	}
	signer, err := RecoverHex(payload, p.SignatureValue)
	if err != nil {
		return err
	}
	if signer != expected {
		return ErrSignerMismatch
	}
	return nil
}
