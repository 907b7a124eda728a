package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-qr-relay/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// statusFor maps domain sentinels to HTTP status codes. Provider failures
// pass their upstream status through unchanged.
func statusFor(err error) int {
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Status
	}
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrPending):
		return http.StatusAccepted
	case errors.Is(err, domain.ErrNotImplemented):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}
