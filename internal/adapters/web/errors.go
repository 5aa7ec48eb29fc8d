package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/documents"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	LineID    string `json:"line_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// retryAfterSeconds is sent with 503 responses caused by lock timeouts.
const retryAfterSeconds = "1"

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorResponse(w, r, errorResponse{Error: message, Code: code}, status)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, resp errorResponse, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp.RequestID = requestIDFromContext(r.Context())
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps an error kind to its HTTP status and a stable error code.
func statusOf(err error) (int, string) {
	switch core.KindOf(err) {
	case core.ErrValidation:
		return http.StatusBadRequest, "VALIDATION"
	case core.ErrNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case core.ErrInsufficientStock:
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case core.ErrOverAllocation:
		return http.StatusConflict, "OVER_ALLOCATION"
	case core.ErrAlreadyPosted:
		return http.StatusConflict, "ALREADY_POSTED"
	case core.ErrReservationClosed:
		return http.StatusConflict, "RESERVATION_CLOSED"
	case core.ErrConversionNotFound:
		return http.StatusUnprocessableEntity, "CONVERSION_NOT_FOUND"
	case core.ErrLockTimeout:
		return http.StatusServiceUnavailable, "LOCK_TIMEOUT"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// writeServiceError translates an ApplicationService error into a response.
// Internal errors are logged and reported without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	var lineErr *documents.LineError
	if errors.As(err, &lineErr) {
		resp.LineID = lineErr.LineID.String()
	}
	switch status {
	case http.StatusInternalServerError:
		h.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		resp.Error = "internal server error"
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeErrorResponse(w, r, resp, status)
}
