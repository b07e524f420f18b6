// Package decision contains the decision ledger domain: the authoritative
// outcome of one execution request, its pending-approval lifecycle, and the
// per-request tool authorization records.
package decision

import (
	"context"
	"errors"
	"time"

	"github.com/openclaw/clasper/internal/domain/request"
)

// Ledger errors.
var (
	ErrNotFound = errors.New("decision not found")
	// ErrTerminal is returned when a resolution targets a decision that is
	// already in a terminal status. Callers treat it as an idempotent no-op.
	ErrTerminal = errors.New("decision already resolved")
)

// Effect is the control plane's ruling on an execution.
type Effect string

const (
	EffectAllow           Effect = "allow"
	EffectDeny            Effect = "deny"
	EffectRequireApproval Effect = "require_approval"
	EffectPending         Effect = "pending"
)

// Status is the lifecycle state of a decision row. Terminal states are
// immutable.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusRejected
}

// TraceResult marks how the engine disposed of one policy.
type TraceResult string

const (
	TraceMatched TraceResult = "matched"
	TraceSkipped TraceResult = "skipped"
)

// TraceEntry is one ordered step of the decision trace. One entry is produced
// per policy considered, in evaluation order.
type TraceEntry struct {
	PolicyID    string      `json:"policy_id"`
	Result      TraceResult `json:"result"`
	Decision    string      `json:"decision,omitempty"`
	Explanation string      `json:"explanation,omitempty"`
}

// GrantedScope is what an allow decision authorizes, with an expiry.
type GrantedScope struct {
	Capabilities []string  `json:"capabilities,omitempty"`
	MaxSteps     int       `json:"max_steps,omitempty"`
	MaxCost      float64   `json:"max_cost,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Resolution records how a pending decision was closed.
type Resolution struct {
	Action        string    `json:"action"` // "approve" or "deny"
	Justification string    `json:"justification"`
	ApprovalType  string    `json:"approval_type"` // "local" or "cloud"
	ResolvedAt    time.Time `json:"resolved_at"`
	ResolverID    string    `json:"resolver_id,omitempty"`
}

// Decision is the authoritative outcome for one execution request. Created at
// decision time; mutated only by resolution; terminal rows are immutable.
type Decision struct {
	DecisionID        string                    `json:"decision_id"`
	ExecutionID       string                    `json:"execution_id"`
	TenantID          string                    `json:"tenant_id"`
	WorkspaceID       string                    `json:"workspace_id,omitempty"`
	AdapterID         string                    `json:"adapter_id"`
	Effect            Effect                    `json:"effect"`
	GrantedScope      *GrantedScope             `json:"granted_scope,omitempty"`
	MatchedPolicies   []string                  `json:"matched_policies"`
	PolicyFallbackHit bool                      `json:"policy_fallback_hit"`
	DecisionTrace     []TraceEntry              `json:"decision_trace"`
	BlockedReason     string                    `json:"blocked_reason,omitempty"`
	RequiredRole      string                    `json:"required_role,omitempty"`
	ApprovalMode      string                    `json:"approval_mode"`
	ApprovalSource    string                    `json:"approval_source,omitempty"`
	AutoAllowedInCore bool                      `json:"auto_allowed_in_core,omitempty"`
	Status            Status                    `json:"status"`
	RequestSnapshot   *request.ExecutionRequest `json:"request_snapshot,omitempty"`
	Resolution        *Resolution               `json:"resolution,omitempty"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// StatusForEffect derives the initial status from the decided effect.
func StatusForEffect(e Effect) Status {
	switch e {
	case EffectAllow:
		return StatusApproved
	case EffectDeny:
		return StatusDenied
	default:
		return StatusPending
	}
}

// ToolAuthorization is the per-request record of a tool ruling, appended once
// per decision and read-only afterwards. It backs the tool-usage views.
type ToolAuthorization struct {
	ExecutionID  string        `json:"execution_id"`
	TenantID     string        `json:"tenant_id"`
	AdapterID    string        `json:"adapter_id"`
	Tool         string        `json:"tool"`
	ToolGroup    string        `json:"tool_group,omitempty"`
	Decision     string        `json:"decision"`
	PolicyID     string        `json:"policy_id,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	GrantedScope *GrantedScope `json:"granted_scope,omitempty"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Ledger persists decisions.
type Ledger interface {
	// Create inserts a decision row. When a decision already exists for the
	// execution_id, the existing row is returned with created=false so
	// concurrent duplicate creates converge.
	Create(ctx context.Context, d *Decision) (stored *Decision, created bool, err error)
	// GetByExecutionID returns the latest decision for an execution.
	GetByExecutionID(ctx context.Context, executionID string) (*Decision, error)
	// Get returns a decision by decision_id.
	Get(ctx context.Context, decisionID string) (*Decision, error)
	// ListPending returns pending decisions for a tenant/workspace.
	ListPending(ctx context.Context, tenantID, workspaceID string) ([]Decision, error)
	// Resolve atomically transitions a pending decision to a terminal
	// status. Returns ErrTerminal (with the current row) when the decision
	// is already terminal.
	Resolve(ctx context.Context, decisionID string, status Status, effect Effect, res Resolution) (*Decision, error)
	// Delete removes a decision row. Used only to back out a create whose
	// audit write failed.
	Delete(ctx context.Context, decisionID string) error
}

// AuthorizationStore persists tool authorization rows.
type AuthorizationStore interface {
	// Append records one tool authorization. Repeat appends for the same
	// (execution_id, tool) keep the first row.
	Append(ctx context.Context, ta *ToolAuthorization) error
	// ListByExecution returns authorizations for an execution.
	ListByExecution(ctx context.Context, executionID string) ([]ToolAuthorization, error)
	// ListByTool returns recent authorizations for a tool.
	ListByTool(ctx context.Context, tenantID, tool string, limit int) ([]ToolAuthorization, error)
}
