package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound       = errors.New("not found")
	ErrBadRequest     = errors.New("bad request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotImplemented = errors.New("not implemented")
	ErrExpired        = errors.New("offer expired")
	ErrPending        = errors.New("waiting for user")
	ErrStorage        = errors.New("storage failure")
)

// UpstreamError carries the HTTP status returned by the provider API so the
// request boundary can pass it through.
type UpstreamError struct {
	Status int
	Reason string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider returned %d %s", e.Status, e.Reason)
}
