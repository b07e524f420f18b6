package httpapi

import (
	"errors"
	"net/http"

	"github.com/openclaw/clasper/internal/domain/adapter"
	"github.com/openclaw/clasper/internal/domain/decision"
	"github.com/openclaw/clasper/internal/domain/request"
	"github.com/openclaw/clasper/internal/domain/telemetry"
)

// handleRegister upserts the adapter and returns the record plus a fresh
// token for the shim bootstrap. POST /adapters/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg adapter.Registration
	if err := decodeJSON(r, &reg); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed registration body")
		return
	}
	res, err := s.registry.Register(r.Context(), &reg)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_id":    res.Adapter.TenantID,
		"adapter_id":   res.Adapter.AdapterID,
		"version":      res.Adapter.Version,
		"display_name": res.Adapter.DisplayName,
		"risk_class":   res.Adapter.RiskClass,
		"capabilities": res.Adapter.Capabilities,
		"enabled":      res.Adapter.Enabled,
		"created_at":   res.Adapter.CreatedAt,
		"updated_at":   res.Adapter.UpdatedAt,
		"token":        res.Token,
	})
}

// handleExecutionRequest runs the decision pipeline for one invocation.
// POST /api/execution/request
func (s *Server) handleExecutionRequest(w http.ResponseWriter, r *http.Request) {
	ac, ok := AdapterFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing_token", "adapter identity missing")
		return
	}

	var req request.ExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed execution request")
		return
	}
	// Identity comes from the verified token, never the body.
	req.AdapterID = ac.AdapterID
	req.TenantID = ac.TenantID
	req.WorkspaceID = ac.WorkspaceID

	d, err := s.decisions.Request(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	s.metrics.DecisionsTotal.WithLabelValues(string(d.Effect)).Inc()
	respondJSON(w, http.StatusOK, d)
}

// handleExecutionGet is the approval poll endpoint.
// GET /api/execution/{execution_id}
func (s *Server) handleExecutionGet(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("execution_id")
	d, err := s.decisions.GetByExecutionID(r.Context(), executionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	var approvalType any
	if d.Resolution != nil {
		approvalType = d.Resolution.ApprovalType
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"execution_id":  d.ExecutionID,
		"effect":        d.Effect,
		"decision_id":   d.DecisionID,
		"approval_type": approvalType,
	})
}

// handleIngest dispatches one telemetry envelope to its sink.
// POST /api/ingest/{kind}
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ac, ok := AdapterFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing_token", "adapter identity missing")
		return
	}
	kind := r.PathValue("kind")

	bind := func(env *telemetry.Envelope) {
		env.AdapterID = ac.AdapterID
		env.TenantID = ac.TenantID
		if env.WorkspaceID == "" {
			env.WorkspaceID = ac.WorkspaceID
		}
	}

	var (
		status    telemetry.IngestStatus
		err       error
		decodeErr error
	)
	switch kind {
	case "trace":
		var env telemetry.TraceEnvelope
		if decodeErr = decodeJSON(r, &env); decodeErr == nil {
			bind(&env.Envelope)
			status, err = s.ingest.IngestTrace(r.Context(), &env)
		}
	case "audit":
		var env telemetry.AuditEnvelope
		if decodeErr = decodeJSON(r, &env); decodeErr == nil {
			bind(&env.Envelope)
			status, err = s.ingest.IngestAudit(r.Context(), &env)
		}
	case "cost":
		var env telemetry.CostEnvelope
		if decodeErr = decodeJSON(r, &env); decodeErr == nil {
			bind(&env.Envelope)
			status, err = s.ingest.IngestCost(r.Context(), &env)
		}
	case "metrics":
		var env telemetry.MetricsEnvelope
		if decodeErr = decodeJSON(r, &env); decodeErr == nil {
			bind(&env.Envelope)
			status, err = s.ingest.IngestMetrics(r.Context(), &env)
		}
	case "violation":
		var env telemetry.ViolationEnvelope
		if decodeErr = decodeJSON(r, &env); decodeErr == nil {
			bind(&env.Envelope)
			status, err = s.ingest.IngestViolation(r.Context(), &env)
		}
	default:
		respondError(w, http.StatusNotFound, "not_found", "unknown ingest kind "+kind)
		return
	}
	if decodeErr != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed "+kind+" envelope")
		return
	}
	if err != nil {
		if errors.Is(err, decision.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		respondServiceError(w, err)
		return
	}
	s.metrics.IngestTotal.WithLabelValues(kind, string(status)).Inc()
	respondJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}
