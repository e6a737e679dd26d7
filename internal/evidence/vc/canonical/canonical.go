// Package canonical defines the byte form a credential is signed and
// fingerprinted over: the document without its top-level proof, with object
// keys sorted, number literals preserved, no insignificant whitespace and no
// HTML escaping.
package canonical

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"
)

const proofKey = "proof"

var (
	ErrNotObject    = errors.New("document is not a JSON object")
	ErrTrailingData = errors.New("unexpected data after JSON document")
)

// Decode parses a JSON object keeping number literals exactly as written.
func Decode(doc []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// Payload returns the canonical signing payload of a decoded document.
// obj is not modified.
func Payload(obj map[string]any) ([]byte, error) {
	unsigned := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == proofKey {
			continue
		}
		unsigned[k] = v
	}
	return Encode(unsigned)
}

// PayloadOf canonicalizes any JSON-marshalable value, so a typed credential
// and its parsed form produce identical bytes.
func PayloadOf(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	obj, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return Payload(obj)
}

// Encode writes v compactly with sorted keys and without HTML escaping.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Fingerprint is 0x-prefixed Keccak-256 of payload.
func Fingerprint(payload []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
