package api

import (
	"context"
	"errors"
	"net/http"
)

// Sentinel errors shared across packages. Handlers map them onto HTTP
// status codes with StatusFor; storage backends and services wrap them
// with context via fmt.Errorf and %w.
var (
	ErrNotFound        = errors.New("not found")
	ErrBadRequest      = errors.New("bad request")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrUnsupportedMime = errors.New("unsupported content type")
	ErrEmptyContent    = errors.New("no extractable text")
	ErrUnavailable     = errors.New("dependency unavailable")
)

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnsupportedMime):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrEmptyContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
