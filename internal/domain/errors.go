package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTurnNotFound    = errors.New("turn not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrRequestInFlight = errors.New("a request is already in flight")
	ErrEmptyInput      = errors.New("empty input")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrCapability      = errors.New("capability failed")
	ErrEmptyResponse   = errors.New("capability returned an empty response")
)

// CapabilityError describes a failed call to an external capability.
type CapabilityError struct {
	Capability string // "inference", "media_search", "research"
	Status     int    // HTTP status when known, 0 otherwise
	Message    string
	Details    string
	Err        error // category sentinel
}

func (e *CapabilityError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Err.Error()
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s [status %d]", e.Capability, msg, e.Status)
	}
	return e.Capability + ": " + msg
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// NewStatusError maps a non-2xx HTTP status onto the capability error taxonomy.
func NewStatusError(capability string, status int, message, details string) *CapabilityError {
	var sentinel error
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		sentinel = ErrInvalidRequest
	case status == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	default:
		sentinel = ErrCapability
	}
	if message == "" {
		message = fmt.Sprintf("HTTP error! status: %d", status)
	}
	return &CapabilityError{
		Capability: capability,
		Status:     status,
		Message:    message,
		Details:    details,
		Err:        sentinel,
	}
}
