// Package httpx holds the JSON response helpers shared by the HTTP handlers.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/storage"
	"github.com/nicktill/tinycarbon/pkg/whisper"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an error response with the given status code and error message.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondErrorString(w, status, err.Error())
}

// RespondErrorString writes an error response with the given status code and error message string.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// RespondStorageError picks the status for an error returned by storage
func RespondStorageError(w http.ResponseWriter, err error) {
	RespondError(w, StorageErrorStatus(err), err)
}

// StorageErrorStatus maps storage and validation errors to HTTP statuses.
// Anything unrecognized is a 500.
func StorageErrorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrUnsupportedKey),
		errors.Is(err, storage.ErrInvalidRange),
		errors.Is(err, whisper.ErrInvalidAggregationMethod),
		errors.Is(err, metric.ErrNameEmpty),
		errors.Is(err, metric.ErrNameTooLong),
		errors.Is(err, metric.ErrEmptySegment),
		errors.Is(err, metric.ErrSegmentTooLong),
		errors.Is(err, metric.ErrInvalidChar):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
