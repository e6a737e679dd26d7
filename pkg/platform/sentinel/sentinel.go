package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, registries and provider
// adapters return these (optionally wrapped) so services can translate them
// into domain errors.
//
//   - ErrNotFound: record does not exist in the store or registry
//   - ErrConflict: record already exists (e.g. fingerprint anchored twice)
//   - ErrInvalidState: entity in wrong state for the requested operation
//   - ErrUnavailable: backend temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
