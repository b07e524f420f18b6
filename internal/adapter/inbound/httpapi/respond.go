// Package httpapi is the HTTP transport for the control plane: the adapter
// decision surface, the telemetry ingest endpoints, and the local operator
// API.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openclaw/clasper/internal/domain/decision"
	"github.com/openclaw/clasper/internal/domain/token"
	"github.com/openclaw/clasper/internal/service"
)

// errorResponse is the wire shape of every error.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondServiceError maps domain and service errors onto status codes and
// machine-readable codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrWizardAckRequired):
		respondError(w, http.StatusBadRequest, "wizard_allow_ack_required", "allow policies require wizard acknowledgement")
	case errors.Is(err, service.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, decision.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrAuditWrite):
		respondError(w, http.StatusInternalServerError, "audit_write_failed", "audit write failed, mutation rolled back")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// respondAuthError maps token verification errors onto 401/403 with the
// matching taxonomy code.
func respondAuthError(w http.ResponseWriter, err error) {
	code := "invalid_token"
	status := http.StatusUnauthorized
	switch {
	case errors.Is(err, token.ErrMissingToken):
		code = "missing_token"
	case errors.Is(err, token.ErrMissingClaim):
		code = "missing_claim"
		status = http.StatusForbidden
	case errors.Is(err, token.ErrConfigError):
		code = "config_error"
		status = http.StatusInternalServerError
	}
	respondError(w, status, code, err.Error())
}

func decodeJSON(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(into)
}
