package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUnauthorized         = errors.New("authorization required")
	ErrSessionInvalid       = errors.New("session invalid")
	ErrContentBlocked       = errors.New("content blocked")
	ErrReadOnly             = errors.New("read-only mode")
	ErrUpstream             = errors.New("upstream failure")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrPersistence          = errors.New("persistence failure")
)

// Status maps an error to the HTTP status the API reports for it.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrSessionInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrContentBlocked), errors.Is(err, ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, ErrConfigurationMissing):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
