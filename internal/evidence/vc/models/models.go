package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"didvault/internal/identity/did"
)

const (
	ContextCredentialsV1     = "https://www.w3.org/2018/credentials/v1"
	TypeVerifiableCredential = "VerifiableCredential"
	TypeVerifiedUser         = "VerifiedUserCredential"
	ProofPurposeAssertion    = "assertionMethod"

	credentialIDPrefix = "urn:uuid:"
)

// CredentialID is a urn:uuid identifier.
type CredentialID string

func NewCredentialID() CredentialID {
	return CredentialID(credentialIDPrefix + uuid.NewString())
}

// ParseCredentialID accepts either the urn form or a bare UUID.
func ParseCredentialID(s string) (CredentialID, error) {
	u, err := uuid.Parse(strings.TrimPrefix(s, credentialIDPrefix))
	if err != nil {
		return "", err
	}
	return CredentialID(credentialIDPrefix + u.String()), nil
}

func (id CredentialID) String() string { return string(id) }

// Subject is the credentialSubject block issued by this service.
type Subject struct {
	ID         did.DID `json:"id"`
	IsVerified bool    `json:"isVerified"`
}

type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	ProofPurpose       string `json:"proofPurpose"`
	VerificationMethod string `json:"verificationMethod"`
	SignatureValue     string `json:"signatureValue"`
}

// Credential is a W3C v1 verifiable credential.
type Credential struct {
	Context           []string     `json:"@context"`
	ID                CredentialID `json:"id"`
	Type              []string     `json:"type"`
	Issuer            did.DID      `json:"issuer"`
	IssuanceDate      string       `json:"issuanceDate"`
	CredentialSubject Subject      `json:"credentialSubject"`
	Proof             *Proof       `json:"proof,omitempty"`
}

// Unsigned returns a copy without proof.
func (c Credential) Unsigned() Credential {
	c.Proof = nil
	return c
}

// IssuedAt parses IssuanceDate.
func (c Credential) IssuedAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, c.IssuanceDate)
}

// Anchor is where a credential fingerprint was recorded.
type Anchor struct {
	TxHash      string    `json:"txHash,omitempty"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	AnchoredAt  time.Time `json:"anchoredAt"`
}

// Record is an issued credential as persisted by the store.
type Record struct {
	ID          CredentialID
	Subject     did.DID
	Issuer      did.DID
	Types       []string
	IssuedAt    time.Time
	Fingerprint string
	Anchor      *Anchor
	Document    json.RawMessage
}

// Reason is the closed set of verification failure reasons.
type Reason string

const (
	ReasonInvalidEncoding     Reason = "invalid_encoding"
	ReasonSchemaViolation     Reason = "schema_violation"
	ReasonSignatureInvalid    Reason = "signature_invalid"
	ReasonNotAnchored         Reason = "not_anchored"
	ReasonRegistryUnavailable Reason = "registry_unavailable"
	ReasonStale               Reason = "stale"
)

// Result is the outcome of a verification. A failed result carries a Reason.
type Result struct {
	Valid        bool   `json:"valid"`
	Reason       Reason `json:"reason,omitempty"`
	Detail       string `json:"detail,omitempty"`
	CredentialID string `json:"credentialId,omitempty"`
	Issuer       string `json:"issuer,omitempty"`
	Fingerprint  string `json:"fingerprint,omitempty"`
}
