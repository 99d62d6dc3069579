// Package response writes the JSON envelopes the Briefly API speaks:
// success bodies under "data", failures under "error" with a stable
// machine-readable code.
package response

import (
	"encoding/json"
	"net/http"
)

type dataEnvelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data inside the standard envelope with a 200 status.
func JSON(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, dataEnvelope{Data: data})
}

// Accepted writes data with a 202 status. Used for batch submissions,
// which are processed asynchronously by the pipeline worker.
func Accepted(w http.ResponseWriter, data any) {
	write(w, http.StatusAccepted, dataEnvelope{Data: data})
}

// Error writes an error envelope. code is a stable identifier clients can
// branch on; message is human-readable and may change between releases.
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	write(w, status, errorEnvelope{Error: apiError{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
