package http

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Rejection codes returned by the brute-force guard
const (
	CodeMissingEmail  = "MISSING_EMAIL"
	CodeIPBlocked     = "IP_BLOCKED"
	CodeAccountLocked = "ACCOUNT_LOCKED"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error             string `json:"error"`                         // Machine-readable error code
	Message           string `json:"message"`                       // Human-readable message
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"` // Retry hint for IP blocks
	MinutesRemaining  int    `json:"minutes_remaining,omitempty"`   // Lock time left for account locks
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteMissingEmail rejects a guarded request that carries no identifier
func WriteMissingEmail(w http.ResponseWriter) {
	WriteError(w, http.StatusBadRequest, CodeMissingEmail, "Email is required.")
}

// WriteIPBlocked rejects a request from a blocked address. The message is
// deliberately generic; the retry hint goes in both the header and the body.
func WriteIPBlocked(w http.ResponseWriter, retryAfterSeconds int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:             CodeIPBlocked,
		Message:           "Too many failed attempts. Please try again later.",
		RetryAfterSeconds: retryAfterSeconds,
	})
}

// WriteAccountLocked rejects a request against a locked account
func WriteAccountLocked(w http.ResponseWriter, minutesRemaining int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusLocked)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            CodeAccountLocked,
		Message:          "Account is temporarily locked. Please try again later.",
		MinutesRemaining: minutesRemaining,
	})
}
