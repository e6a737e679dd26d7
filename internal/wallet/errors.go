package wallet

import (
	"context"
	"errors"

	dErrors "didvault/pkg/domain-errors"
)

var (
	ErrProviderUnavailable = dErrors.New(dErrors.CodeProviderUnavailable, "no wallet provider is available")
	ErrNotConnected        = dErrors.New(dErrors.CodeNotConnected, "wallet is not connected")
	ErrEventsClosed        = errors.New("provider event stream closed")
)

// Expired reports that the session moved on while an operation was suspended.
func Expired(message string) error {
	return dErrors.New(dErrors.CodeSessionExpired, message)
}

// ProviderFailure translates a provider call error into the domain taxonomy.
// rejected is the code used when the user declined the prompt (4001).
func ProviderFailure(err error, rejected dErrors.Code, message string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout):
		return dErrors.Wrap(err, dErrors.CodeProviderTimeout, message+": wallet did not respond in time")
	case errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, message+": request cancelled")
	case IsUserRejected(err):
		return dErrors.Wrap(err, rejected, message+": request rejected by user")
	default:
		var de *dErrors.Error
		if errors.As(err, &de) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeProviderError, message)
	}
}
