package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/openclaw/clasper/internal/config"
	"github.com/openclaw/clasper/internal/domain/audit"
	"github.com/openclaw/clasper/internal/domain/decision"
	"github.com/openclaw/clasper/internal/domain/policy"
)

// CELValidator checks condition_cel expressions before a policy is accepted.
type CELValidator interface {
	ValidateExpression(expr string) error
}

// PolicyService manages the policy set: wizard create/update with audit
// hashes, YAML seeding, and the source-trace auto-resolution hook.
type PolicyService struct {
	policies  policy.Store
	approvals *ApprovalService
	ledger    decision.Ledger
	auditLog  audit.Store
	celCheck  CELValidator
	cfg       *config.Config
	logger    *slog.Logger
}

// NewPolicyService wires the policy service.
func NewPolicyService(
	policies policy.Store,
	approvals *ApprovalService,
	ledger decision.Ledger,
	auditLog audit.Store,
	celCheck CELValidator,
	cfg *config.Config,
	logger *slog.Logger,
) *PolicyService {
	return &PolicyService{
		policies:  policies,
		approvals: approvals,
		ledger:    ledger,
		auditLog:  auditLog,
		celCheck:  celCheck,
		cfg:       cfg,
		logger:    logger.With("component", "policy"),
	}
}

// UpsertInput is a wizard create/update request.
type UpsertInput struct {
	Policy policy.Policy
	// WizardAcknowledgedAllow must be set for allow policies created via
	// the wizard.
	WizardAcknowledgedAllow bool
	// SourceTraceID optionally names the execution whose pending decision
	// prompted this policy.
	SourceTraceID string
	ActorID       string
}

// UpsertResult is the stored policy plus any decision the new policy
// auto-resolved.
type UpsertResult struct {
	Policy            *policy.Policy
	Created           bool
	AutoResolvedID    string
	SummaryHashBefore string
	SummaryHashAfter  string
}

// Upsert validates and stores a policy. Allow policies require the explicit
// wizard acknowledgement; the refusal has no side effects. The audit entry
// carries stable hashes of the policy summary before and after.
func (s *PolicyService) Upsert(ctx context.Context, in *UpsertInput) (*UpsertResult, error) {
	p := &in.Policy
	if p.PolicyID == "" {
		return nil, fmt.Errorf("%w: policy_id is required", ErrValidation)
	}
	if p.Effect.Decision != policy.DecisionAllow &&
		p.Effect.Decision != policy.DecisionDeny &&
		p.Effect.Decision != policy.DecisionRequireApproval {
		return nil, fmt.Errorf("%w: unknown effect decision %q", ErrValidation, p.Effect.Decision)
	}
	switch p.Subject.Type {
	case policy.SubjectTool, policy.SubjectCapability, policy.SubjectSkill, policy.SubjectAdapter:
	default:
		// A typoed subject type would be stored but never match anything.
		return nil, fmt.Errorf("%w: unknown subject type %q", ErrValidation, p.Subject.Type)
	}
	if p.Effect.Decision == policy.DecisionAllow && !in.WizardAcknowledgedAllow {
		return nil, ErrWizardAckRequired
	}
	if _, err := policy.ParseConditions(p.Conditions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if p.ConditionCEL != "" && s.celCheck != nil {
		if err := s.celCheck.ValidateExpression(p.ConditionCEL); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	if p.Scope.TenantID == "" {
		p.Scope.TenantID = s.cfg.Tenant.LocalTenantID
	}

	existing, err := s.policies.Get(ctx, p.PolicyID)
	created := err != nil
	before := ""
	if existing != nil {
		before = summaryHash(existing)
	}

	if err := s.policies.Upsert(ctx, p); err != nil {
		return nil, err
	}
	after := summaryHash(p)

	eventType := audit.EventPolicyUpdatedViaWizard
	if created {
		eventType = audit.EventPolicyCreatedViaWizard
	}
	if _, err := s.auditLog.Append(ctx, p.Scope.TenantID, eventType, "operator:"+in.ActorID, map[string]any{
		"policy_id":           p.PolicyID,
		"effect":              string(p.Effect.Decision),
		"summary_hash_before": before,
		"summary_hash_after":  after,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	result := &UpsertResult{
		Policy:            p,
		Created:           created,
		SummaryHashBefore: before,
		SummaryHashAfter:  after,
	}

	if in.SourceTraceID != "" {
		if id := s.tryAutoResolve(ctx, in.SourceTraceID); id != "" {
			result.AutoResolvedID = id
		}
	}

	s.logger.Info("policy upserted",
		"policy_id", p.PolicyID,
		"created", created,
		"effect", p.Effect.Decision)
	return result, nil
}

// tryAutoResolve re-evaluates the pending decision behind the source trace;
// if the new policy set yields allow, the decision is approved as a policy
// exception.
func (s *PolicyService) tryAutoResolve(ctx context.Context, sourceTraceID string) string {
	d, err := s.ledger.GetByExecutionID(ctx, sourceTraceID)
	if err != nil {
		if !errors.Is(err, decision.ErrNotFound) {
			s.logger.Warn("source trace lookup failed", "source_trace_id", sourceTraceID, "error", err)
		}
		return ""
	}
	if d.Status != decision.StatusPending || d.RequestSnapshot == nil {
		return ""
	}
	resolved, err := s.approvals.reconcileOne(ctx, d)
	if err != nil {
		s.logger.Warn("auto-resolve failed", "decision_id", d.DecisionID, "error", err)
		return ""
	}
	if !resolved {
		return ""
	}
	return d.DecisionID
}

// Get returns a policy by id.
func (s *PolicyService) Get(ctx context.Context, policyID string) (*policy.Policy, error) {
	return s.policies.Get(ctx, policyID)
}

// List returns the policies visible to the local tenant and workspace.
func (s *PolicyService) List(ctx context.Context) ([]policy.Policy, error) {
	return s.policies.ListByScope(ctx, s.cfg.Tenant.LocalTenantID, s.cfg.Tenant.LocalWorkspaceID)
}

// seedFile is the YAML shape of a policy seed document.
type seedFile struct {
	Policies []policy.Policy `yaml:"policies"`
}

// SeedFromFile loads a YAML policy document and upserts every policy in it.
// Seeding is idempotent; policies are keyed by policy_id.
func (s *PolicyService) SeedFromFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read policy seed: %w", err)
	}
	var doc seedFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("parse policy seed: %w", err)
	}

	for i := range doc.Policies {
		p := &doc.Policies[i]
		if p.Scope.TenantID == "" {
			p.Scope.TenantID = s.cfg.Tenant.LocalTenantID
		}
		if _, err := policy.ParseConditions(p.Conditions); err != nil {
			return 0, fmt.Errorf("seed policy %q: %w", p.PolicyID, err)
		}
		if err := s.policies.Upsert(ctx, p); err != nil {
			return 0, fmt.Errorf("seed policy %q: %w", p.PolicyID, err)
		}
	}
	if len(doc.Policies) > 0 {
		if _, err := s.auditLog.Append(ctx, s.cfg.Tenant.LocalTenantID, "policy_seed_applied", "system", map[string]any{
			"path":  path,
			"count": len(doc.Policies),
		}); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrAuditWrite, err)
		}
	}
	s.logger.Info("policy seed applied", "path", path, "count", len(doc.Policies))
	return len(doc.Policies), nil
}

// summaryHash is a stable fingerprint of the governance-relevant policy
// fields, recorded in wizard audit entries.
func summaryHash(p *policy.Policy) string {
	canonical, err := audit.StableJSON(map[string]any{
		"policy_id":   p.PolicyID,
		"subject":     map[string]any{"type": string(p.Subject.Type), "name": p.Subject.Name},
		"conditions":  p.Conditions,
		"cel":         p.ConditionCEL,
		"decision":    string(p.Effect.Decision),
		"precedence":  p.Precedence,
		"enabled":     p.Enabled,
		"is_fallback": p.IsFallback,
	})
	if err != nil {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64String(canonical), 16)
}
