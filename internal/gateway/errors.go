package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Error types emitted by the gateway.
const (
	ErrTypeUnauthorized       = "unauthorized"
	ErrTypeNoAvailableAccount = "no_available_account"
	ErrTypeExecutionError     = "execution_error"
	ErrTypeServiceUnavailable = "service_unavailable"
	ErrTypeNotFound           = "not_found"
	ErrTypeInternal           = "internal_error"
)

// ErrorResponse matches the upstream's error response shape.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error type and message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, errorType, message string) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Type:    errorType,
			Message: message,
		},
	}
	writeJSON(w, statusCode, response)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
