package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openclaw/clasper/internal/config"
	"github.com/openclaw/clasper/internal/domain/adapter"
	"github.com/openclaw/clasper/internal/domain/audit"
	"github.com/openclaw/clasper/internal/domain/decision"
	"github.com/openclaw/clasper/internal/domain/policy"
	"github.com/openclaw/clasper/internal/service/engine"
)

// minJustificationLen is the floor for local approval justifications.
const minJustificationLen = 10

// ApprovalService resolves pending decisions, either by operator action or by
// re-evaluating them against the current policy set.
type ApprovalService struct {
	ledger   decision.Ledger
	policies policy.Store
	registry adapter.Registry
	auditLog audit.Store
	cel      engine.CELEvaluator
	cfg      *config.Config
	logger   *slog.Logger
}

// NewApprovalService wires the approval service.
func NewApprovalService(
	ledger decision.Ledger,
	policies policy.Store,
	registry adapter.Registry,
	auditLog audit.Store,
	cel engine.CELEvaluator,
	cfg *config.Config,
	logger *slog.Logger,
) *ApprovalService {
	return &ApprovalService{
		ledger:   ledger,
		policies: policies,
		registry: registry,
		auditLog: auditLog,
		cel:      cel,
		cfg:      cfg,
		logger:   logger.With("component", "approval"),
	}
}

// ResolveInput is one operator resolution.
type ResolveInput struct {
	DecisionID    string
	Action        string // "approve" or "deny"
	Justification string
	ApprovalType  string // "local" (default) or "cloud"
	ResolverID    string
}

// Resolve closes a pending decision. Resolving an already-terminal decision
// is an idempotent no-op returning the current row. Local approvals require a
// justification of at least ten characters.
func (s *ApprovalService) Resolve(ctx context.Context, in ResolveInput) (*decision.Decision, error) {
	if in.Action != "approve" && in.Action != "deny" {
		return nil, fmt.Errorf("%w: action must be approve or deny", ErrValidation)
	}
	if in.ApprovalType == "" {
		in.ApprovalType = "local"
	}
	if in.ApprovalType != "local" && in.ApprovalType != "cloud" {
		return nil, fmt.Errorf("%w: approval_type must be local or cloud", ErrValidation)
	}
	if in.ApprovalType == "local" && len(in.Justification) < minJustificationLen {
		return nil, fmt.Errorf("%w: justification must be at least %d characters", ErrValidation, minJustificationLen)
	}

	before, err := s.ledger.Get(ctx, in.DecisionID)
	if err != nil {
		return nil, err
	}

	status, effect := decision.StatusApproved, decision.EffectAllow
	if in.Action == "deny" {
		status, effect = decision.StatusDenied, decision.EffectDeny
	}
	res := decision.Resolution{
		Action:        in.Action,
		Justification: in.Justification,
		ApprovalType:  in.ApprovalType,
		ResolvedAt:    time.Now().UTC(),
		ResolverID:    in.ResolverID,
	}

	resolved, err := s.ledger.Resolve(ctx, in.DecisionID, status, effect, res)
	if errors.Is(err, decision.ErrTerminal) {
		return resolved, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.auditLog.Append(ctx, resolved.TenantID, audit.EventPolicyDecisionResolved, "operator:"+in.ResolverID, map[string]any{
		"decision_id":   resolved.DecisionID,
		"execution_id":  resolved.ExecutionID,
		"action":        in.Action,
		"approval_type": in.ApprovalType,
		"justification": in.Justification,
		"before":        map[string]any{"status": string(before.Status), "effect": string(before.Effect)},
		"after":         map[string]any{"status": string(resolved.Status), "effect": string(resolved.Effect)},
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	s.logger.Info("decision resolved",
		"decision_id", resolved.DecisionID,
		"action", in.Action,
		"approval_type", in.ApprovalType)
	return resolved, nil
}

// ReconcileResult reports which pending decisions a reconcile pass closed.
type ReconcileResult struct {
	ResolvedCount       int      `json:"resolved_count"`
	ResolvedDecisionIDs []string `json:"resolved_decision_ids"`
}

// ReconcilePending re-evaluates every pending decision against the current
// policy set. Decisions that now evaluate to allow are approved with the
// policy-exception justification; decisions that now evaluate to deny are
// denied; anything else stays pending.
func (s *ApprovalService) ReconcilePending(ctx context.Context, tenantID, workspaceID string) (*ReconcileResult, error) {
	if tenantID == "" {
		tenantID = s.cfg.Tenant.LocalTenantID
	}
	pending, err := s.ledger.ListPending(ctx, tenantID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list pending decisions: %w", err)
	}

	result := &ReconcileResult{ResolvedDecisionIDs: []string{}}
	for i := range pending {
		d := &pending[i]
		if d.RequestSnapshot == nil {
			continue
		}
		resolved, err := s.reconcileOne(ctx, d)
		if err != nil {
			s.logger.Warn("reconcile failed for decision", "decision_id", d.DecisionID, "error", err)
			continue
		}
		if resolved {
			result.ResolvedCount++
			result.ResolvedDecisionIDs = append(result.ResolvedDecisionIDs, d.DecisionID)
		}
	}
	return result, nil
}

func (s *ApprovalService) reconcileOne(ctx context.Context, d *decision.Decision) (bool, error) {
	pols, err := s.policies.ListByScope(ctx, d.TenantID, d.WorkspaceID)
	if err != nil {
		return false, err
	}
	ad, err := s.registry.Get(ctx, d.TenantID, d.AdapterID, "")
	if err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return false, err
	}

	res := engine.Evaluate(d.RequestSnapshot, pols, ad, engine.Options{
		ApprovalMode:     "enforce",
		OperatorsEnabled: s.cfg.Policy.OperatorsEnabled,
		WorkspaceRoot:    s.cfg.Tenant.WorkspaceRoot,
		ScopeTTL:         s.cfg.DefaultScopeTTLDuration(),
		MaxSteps:         s.cfg.Policy.DefaultMaxSteps,
		MaxCost:          s.cfg.Policy.DefaultMaxCost,
		CEL:              s.cel,
	})

	var in ResolveInput
	switch res.Effect {
	case decision.EffectAllow:
		in = ResolveInput{
			DecisionID:    d.DecisionID,
			Action:        "approve",
			Justification: "policy_exception_created",
			ApprovalType:  "local",
			ResolverID:    "reconcile",
		}
	case decision.EffectDeny:
		in = ResolveInput{
			DecisionID:    d.DecisionID,
			Action:        "deny",
			Justification: "policy_reconciliation_denied",
			ApprovalType:  "local",
			ResolverID:    "reconcile",
		}
	default:
		return false, nil
	}
	if _, err := s.Resolve(ctx, in); err != nil {
		return false, err
	}
	return true, nil
}
