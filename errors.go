package herald

import (
	"errors"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/signature"
	"github.com/xraph/herald/store"
)

// Sentinel errors returned by Herald operations. Most are the owning
// package's sentinel, re-exported so callers need only import herald.
var (
	// ErrNoStore is returned by New without WithStore.
	ErrNoStore = errors.New("herald: store is required")

	// ErrInvalidConfig wraps every Config.Validate failure.
	ErrInvalidConfig = errors.New("herald: invalid config")

	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("herald: validation failed")

	// ErrEndpointDisabled is returned when replaying to a disabled endpoint.
	ErrEndpointDisabled = errors.New("herald: endpoint is disabled")

	ErrEndpointNotFound        = endpoint.ErrNotFound
	ErrEventTypeNotFound       = catalog.ErrNotFound
	ErrEventTypeDeprecated     = catalog.ErrDeprecated
	ErrEventNotFound           = event.ErrNotFound
	ErrDuplicateIdempotencyKey = event.ErrDuplicateIdempotencyKey
	ErrDeliveryNotFound        = delivery.ErrNotFound
	ErrClaimLost               = delivery.ErrClaimLost
	ErrInvalidTransition       = delivery.ErrInvalidTransition
	ErrEmptySecret             = signature.ErrEmptySecret
	ErrStoreClosed             = store.ErrClosed
)

// ValidationError reports input rejected before anything was persisted.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "herald: " + e.Message
	}
	return "herald: invalid " + e.Field + ": " + e.Message
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Unwrap returns the underlying cause, such as catalog.ErrNotFound.
func (e *ValidationError) Unwrap() error { return e.err }

func invalid(field string, cause error) *ValidationError {
	return &ValidationError{Field: field, Message: cause.Error(), err: cause}
}

// asValidation converts the sub-packages' input errors to a
// *ValidationError and returns any other error unchanged.
func asValidation(err error) error {
	var epErr *endpoint.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &epErr):
		return &ValidationError{Field: epErr.Field, Message: epErr.Message, err: err}
	case errors.Is(err, catalog.ErrInvalidDefinition):
		return invalid("event_type", err)
	}
	return err
}
