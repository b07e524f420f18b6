package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openclaw/clasper/internal/config"
	"github.com/openclaw/clasper/internal/domain/adapter"
	"github.com/openclaw/clasper/internal/domain/audit"
	"github.com/openclaw/clasper/internal/domain/decision"
	"github.com/openclaw/clasper/internal/domain/policy"
	"github.com/openclaw/clasper/internal/domain/request"
	"github.com/openclaw/clasper/internal/service/engine"
)

// DecisionService runs the decision pipeline: load scoped policies and the
// adapter record, evaluate, persist the decision and tool authorization, and
// append the audit entry. An audit failure rolls the decision back.
type DecisionService struct {
	policies policy.Store
	registry adapter.Registry
	ledger   decision.Ledger
	toolAuth decision.AuthorizationStore
	auditLog audit.Store
	cel      engine.CELEvaluator
	cfg      *config.Config
	validate *validator.Validate
	logger   *slog.Logger
}

// NewDecisionService wires the decision pipeline.
func NewDecisionService(
	policies policy.Store,
	registry adapter.Registry,
	ledger decision.Ledger,
	toolAuth decision.AuthorizationStore,
	auditLog audit.Store,
	cel engine.CELEvaluator,
	cfg *config.Config,
	logger *slog.Logger,
) *DecisionService {
	return &DecisionService{
		policies: policies,
		registry: registry,
		ledger:   ledger,
		toolAuth: toolAuth,
		auditLog: auditLog,
		cel:      cel,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger.With("component", "decision"),
	}
}

// Request evaluates one execution request and returns the persisted decision.
// A repeated execution_id returns the stored decision; a repeat against a
// still-pending decision additionally records approval_pending_reused.
func (s *DecisionService) Request(ctx context.Context, req *request.ExecutionRequest) (*decision.Decision, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.ExecutionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("mint execution id: %w", err)
		}
		req.ExecutionID = id.String()
	}
	if req.TenantID == "" {
		req.TenantID = s.cfg.Tenant.LocalTenantID
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = s.cfg.Tenant.LocalWorkspaceID
	}

	ad, err := s.registry.Get(ctx, req.TenantID, req.AdapterID, "")
	if err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return nil, fmt.Errorf("load adapter: %w", err)
	}

	pols, err := s.policies.ListByScope(ctx, req.TenantID, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}

	res := engine.Evaluate(req, pols, ad, engine.Options{
		ApprovalMode:     s.cfg.Policy.ApprovalMode,
		OperatorsEnabled: s.cfg.Policy.OperatorsEnabled,
		WorkspaceRoot:    s.cfg.Tenant.WorkspaceRoot,
		ScopeTTL:         s.cfg.DefaultScopeTTLDuration(),
		MaxSteps:         s.cfg.Policy.DefaultMaxSteps,
		MaxCost:          s.cfg.Policy.DefaultMaxCost,
		CEL:              s.cel,
	})

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("mint decision id: %w", err)
	}
	d := &decision.Decision{
		DecisionID:        id.String(),
		ExecutionID:       req.ExecutionID,
		TenantID:          req.TenantID,
		WorkspaceID:       req.WorkspaceID,
		AdapterID:         req.AdapterID,
		Effect:            res.Effect,
		GrantedScope:      res.GrantedScope,
		MatchedPolicies:   res.MatchedPolicies,
		PolicyFallbackHit: res.FallbackHit,
		DecisionTrace:     res.Trace,
		BlockedReason:     res.BlockedReason,
		RequiredRole:      res.RequiredRole,
		ApprovalMode:      res.ApprovalMode,
		ApprovalSource:    res.ApprovalSource,
		AutoAllowedInCore: res.AutoAllowedInCore,
		Status:            res.Status,
		RequestSnapshot:   req,
	}

	stored, created, err := s.ledger.Create(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("persist decision: %w", err)
	}
	if !created {
		if stored.Status == decision.StatusPending {
			// Same execution hitting a still-pending decision. The
			// reuse itself is audited by the shim.
			s.logger.Info("pending decision reused",
				"execution_id", stored.ExecutionID,
				"decision_id", stored.DecisionID)
		}
		return stored, nil
	}

	if err := s.appendToolAuthorization(ctx, req, stored, res); err != nil {
		// The authorization row is part of the decision record, so a
		// failed append backs the decision out too.
		if delErr := s.ledger.Delete(ctx, stored.DecisionID); delErr != nil {
			s.logger.Error("rollback after authorization failure also failed",
				"decision_id", stored.DecisionID, "error", delErr)
		}
		return nil, fmt.Errorf("persist tool authorization: %w", err)
	}

	if err := s.auditDecision(ctx, req, stored); err != nil {
		// Audit is load-bearing: back the decision out and fail the
		// mutation.
		if delErr := s.ledger.Delete(ctx, stored.DecisionID); delErr != nil {
			s.logger.Error("rollback after audit failure also failed",
				"decision_id", stored.DecisionID, "error", delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	s.logger.Info("decision issued",
		"execution_id", stored.ExecutionID,
		"decision_id", stored.DecisionID,
		"tool", req.Tool,
		"effect", stored.Effect,
		"matched", stored.MatchedPolicies,
		"fallback_hit", stored.PolicyFallbackHit)
	return stored, nil
}

// GetByExecutionID returns the latest decision for an execution.
func (s *DecisionService) GetByExecutionID(ctx context.Context, executionID string) (*decision.Decision, error) {
	return s.ledger.GetByExecutionID(ctx, executionID)
}

func (s *DecisionService) appendToolAuthorization(ctx context.Context, req *request.ExecutionRequest, d *decision.Decision, res *engine.Result) error {
	if req.Tool == "" {
		return nil
	}
	ta := &decision.ToolAuthorization{
		ExecutionID:  d.ExecutionID,
		TenantID:     d.TenantID,
		AdapterID:    d.AdapterID,
		Tool:         req.Tool,
		ToolGroup:    req.ToolGroup,
		Decision:     string(d.Effect),
		Reason:       d.BlockedReason,
		GrantedScope: d.GrantedScope,
		CreatedAt:    time.Now().UTC(),
	}
	if len(d.MatchedPolicies) > 0 {
		ta.PolicyID = d.MatchedPolicies[0]
	}
	if d.GrantedScope != nil {
		exp := d.GrantedScope.ExpiresAt
		ta.ExpiresAt = &exp
	}
	return s.toolAuth.Append(ctx, ta)
}

func (s *DecisionService) auditDecision(ctx context.Context, req *request.ExecutionRequest, d *decision.Decision) error {
	data := map[string]any{
		"execution_id":     d.ExecutionID,
		"decision_id":      d.DecisionID,
		"adapter_id":       d.AdapterID,
		"tool":             req.Tool,
		"effect":           string(d.Effect),
		"matched_policies": d.MatchedPolicies,
		"fallback_hit":     d.PolicyFallbackHit,
	}
	eventType := audit.EventPolicyDecisionCreated
	switch {
	case d.Effect == decision.EffectDeny:
		eventType = audit.EventToolExecutionBlocked
		data["blocked_reason"] = d.BlockedReason
	case d.AutoAllowedInCore:
		eventType = audit.EventPolicyDecisionAuto
		data["approval_source"] = d.ApprovalSource
	}
	_, err := s.auditLog.Append(ctx, d.TenantID, eventType, "adapter:"+d.AdapterID, data)
	return err
}
