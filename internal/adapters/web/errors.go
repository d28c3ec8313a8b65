package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"stockledger/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps the core error taxonomy onto HTTP statuses.
// Contention gets 503 + Retry-After since the caller should retry the
// whole operation.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrInsufficientStock):
		writeError(w, r, err.Error(), "INSUFFICIENT_STOCK", http.StatusConflict)
	case errors.Is(err, core.ErrContention):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, err.Error(), "CONTENTION", http.StatusServiceUnavailable)
	case errors.Is(err, core.ErrSelfApproval):
		writeError(w, r, err.Error(), "SELF_APPROVAL_NOT_ALLOWED", http.StatusForbidden)
	case errors.Is(err, core.ErrAlreadyDecided):
		writeError(w, r, err.Error(), "ALREADY_DECIDED", http.StatusConflict)
	case errors.Is(err, core.ErrInvalidEntry):
		writeError(w, r, err.Error(), "INVALID_ENTRY", http.StatusBadRequest)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	default:
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
