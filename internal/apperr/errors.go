package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared across repositories and handlers.
var (
	ErrForbidden         = errors.New("access denied")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrEditWindowExpired = errors.New("edit window expired")
	ErrAlreadyMember     = errors.New("already a member")
	ErrNotAMember        = errors.New("not a member")
	ErrTransient         = errors.New("temporary failure")
)

// Transient wraps a store error so callers can distinguish retryable
// failures from authorization failures.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Status maps an error to an HTTP status code and a client-safe message.
// Forbidden deliberately returns the same generic body whether or not the
// resource exists, so callers cannot enumerate other orgs' resources.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, ErrAlreadyMember):
		return http.StatusConflict, "already a member"
	case errors.Is(err, ErrNotAMember):
		return http.StatusConflict, "not a member"
	case errors.Is(err, ErrEditWindowExpired):
		return http.StatusUnprocessableEntity, "edit window expired"
	case errors.Is(err, ErrInvalidState):
		return http.StatusUnprocessableEntity, "invalid state"
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable, "temporary failure, retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
