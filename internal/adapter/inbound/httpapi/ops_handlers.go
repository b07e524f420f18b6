package httpapi

import (
	"net/http"

	"github.com/openclaw/clasper/internal/domain/policy"
	"github.com/openclaw/clasper/internal/service"
)

// resolveBody is the operator resolution payload.
type resolveBody struct {
	Action        string `json:"action"`
	Justification string `json:"justification"`
	ApprovalType  string `json:"approval_type,omitempty"`
	ResolverID    string `json:"resolver_id,omitempty"`
}

// handleResolve closes a pending decision.
// POST /api/decisions/{decision_id}/resolve
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed resolve body")
		return
	}
	d, err := s.approvals.Resolve(r.Context(), service.ResolveInput{
		DecisionID:    r.PathValue("decision_id"),
		Action:        body.Action,
		Justification: body.Justification,
		ApprovalType:  body.ApprovalType,
		ResolverID:    body.ResolverID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// reconcileBody selects which pending decisions to reconcile.
type reconcileBody struct {
	TenantID    string `json:"tenant_id"`
	WorkspaceID string `json:"workspace_id"`
}

// handleReconcile re-evaluates pending decisions against current policies.
// POST /ops/api/decisions/reconcile
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var body reconcileBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed reconcile body")
		return
	}
	res, err := s.approvals.ReconcilePending(r.Context(), body.TenantID, body.WorkspaceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// policyBody is a policy document plus the wizard metadata fields.
type policyBody struct {
	policy.Policy
	WizardMeta struct {
		WizardAcknowledgedAllow bool `json:"wizard_acknowledged_allow"`
	} `json:"_wizard_meta"`
	SourceTraceID string `json:"_source_trace_id,omitempty"`
}

// handlePolicyUpsert creates or updates a policy via the wizard surface.
// POST /ops/api/policies
func (s *Server) handlePolicyUpsert(w http.ResponseWriter, r *http.Request) {
	var body policyBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed policy body")
		return
	}
	res, err := s.policies.Upsert(r.Context(), &service.UpsertInput{
		Policy:                  body.Policy,
		WizardAcknowledgedAllow: body.WizardMeta.WizardAcknowledgedAllow,
		SourceTraceID:           body.SourceTraceID,
		ActorID:                 "local-operator",
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]any{
		"policy":              res.Policy,
		"created":             res.Created,
		"auto_resolved_id":    res.AutoResolvedID,
		"summary_hash_before": res.SummaryHashBefore,
		"summary_hash_after":  res.SummaryHashAfter,
	})
}
