package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sonoff-bridge/internal/accessory"
	"github.com/nerrad567/sonoff-bridge/internal/device"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeInternal          = "internal_error"
	ErrCodeMethodNotAllow    = "method_not_allowed"
	ErrCodeNotBound          = "not_bound"
	ErrCodeDeviceUnreachable = "device_unreachable"
	ErrCodeDeviceError       = "device_error"
	ErrCodeProtocol          = "protocol_error"
	ErrCodeTimeout           = "timeout"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps registry and device errors onto HTTP statuses.
// The device's own message is surfaced unchanged.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accessory.ErrAccessoryNotFound):
		writeNotFound(w, "accessory not found")
	case errors.Is(err, accessory.ErrNoHandler), errors.Is(err, device.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotBound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, device.ErrDeviceReported):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, err.Error())
	case errors.Is(err, device.ErrMalformedResponse):
		writeError(w, http.StatusBadGateway, ErrCodeProtocol, err.Error())
	case errors.Is(err, device.ErrTransport):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceUnreachable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
