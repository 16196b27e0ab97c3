// Package response writes enveloped JSON responses outside the huma
// layer. Middleware that answers before a handler runs (rate limiting,
// panic recovery) uses it so every byte the server emits has the same
// versioned shape.
package response

import (
	"encoding/json/v2"
	"log/slog"
	"net/http"
)

// envelopeVersion matches the "v" field the huma transformer stamps on
// handler responses.
const envelopeVersion = 1

// Envelope provides a consistent JSON response structure.
type Envelope struct {
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON writes an enveloped response with the given status code. Success
// is derived from the status.
func JSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	write(w, status, Envelope{
		Version: envelopeVersion,
		Success: status < 400,
		Data:    data,
	}, logger)
}

// Error writes an enveloped error response with the given status code.
func Error(w http.ResponseWriter, status int, message string, logger *slog.Logger) {
	write(w, status, Envelope{
		Version: envelopeVersion,
		Success: false,
		Error:   message,
	}, logger)
}

// TooManyRequests writes a 429 Too Many Requests response.
func TooManyRequests(w http.ResponseWriter, message string, logger *slog.Logger) {
	Error(w, http.StatusTooManyRequests, message, logger)
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, message string, logger *slog.Logger) {
	Error(w, http.StatusInternalServerError, message, logger)
}

func write(w http.ResponseWriter, status int, envelope Envelope, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	// MarshalWrite adds no trailing newline, which is fine for HTTP.
	if err := json.MarshalWrite(w, envelope); err != nil && logger != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
