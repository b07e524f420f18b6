// Package policy contains domain types for declarative governance policies.
package policy

import (
	"context"
	"time"
)

// Decision is the effect class a policy rules for.
type Decision string

const (
	// DecisionAllow permits the tool invocation to proceed.
	DecisionAllow Decision = "allow"
	// DecisionDeny blocks the tool invocation.
	DecisionDeny Decision = "deny"
	// DecisionRequireApproval holds the invocation for operator resolution.
	DecisionRequireApproval Decision = "require_approval"
)

// Rank orders decision classes for tie-breaking between matched policies:
// deny > require_approval > allow.
func (d Decision) Rank() int {
	switch d {
	case DecisionDeny:
		return 3
	case DecisionRequireApproval:
		return 2
	case DecisionAllow:
		return 1
	default:
		return 0
	}
}

// SubjectType selects what part of the request a policy's subject matches.
type SubjectType string

const (
	SubjectTool       SubjectType = "tool"
	SubjectCapability SubjectType = "capability"
	SubjectSkill      SubjectType = "skill"
	SubjectAdapter    SubjectType = "adapter"
)

// Subject identifies what a policy applies to. An empty Name matches any
// request that carries the subject's field at all.
type Subject struct {
	Type SubjectType `json:"type" yaml:"type"`
	Name string      `json:"name,omitempty" yaml:"name,omitempty"`
}

// Scope binds a policy to a tenant and optionally a workspace.
type Scope struct {
	TenantID    string `json:"tenant_id" yaml:"tenant_id"`
	WorkspaceID string `json:"workspace_id,omitempty" yaml:"workspace_id,omitempty"`
}

// GrantedScope is the scope a policy grants on allow. Zero values fall back
// to engine defaults.
type GrantedScope struct {
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	MaxSteps     int      `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	MaxCost      float64  `json:"max_cost,omitempty" yaml:"max_cost,omitempty"`
}

// Effect is what a matched policy rules.
type Effect struct {
	Decision     Decision      `json:"decision" yaml:"decision"`
	RequiredRole string        `json:"required_role,omitempty" yaml:"required_role,omitempty"`
	GrantedScope *GrantedScope `json:"granted_scope,omitempty" yaml:"granted_scope,omitempty"`
}

// Policy is one declarative governance rule. Policies are upserted by
// PolicyID and disabled rather than deleted.
type Policy struct {
	// PolicyID is the stable identifier, e.g. "openclaw-deny-delete-file".
	PolicyID string `json:"policy_id" yaml:"policy_id"`
	// Scope restricts where the policy applies.
	Scope Scope `json:"scope" yaml:"scope"`
	// Subject selects the requests this policy considers.
	Subject Subject `json:"subject" yaml:"subject"`
	// Conditions is a map of field path to predicate expression. See
	// ParseConditions for the accepted operator forms.
	Conditions map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	// ConditionCEL is an optional CEL expression ANDed with Conditions.
	// Only honored when the advanced operator mode is enabled.
	ConditionCEL string `json:"condition_cel,omitempty" yaml:"condition_cel,omitempty"`
	// Effect is the ruling when all conditions hold.
	Effect Effect `json:"effect" yaml:"effect"`
	// Precedence orders evaluation; higher wins within a decision class.
	Precedence int `json:"precedence" yaml:"precedence"`
	// Enabled policies participate in evaluation; disabled ones are skipped.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Explanation is surfaced in decision traces and denial reasons.
	Explanation string `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	// IsFallback marks the catch-all rule installed to close the default.
	IsFallback bool `json:"is_fallback,omitempty" yaml:"is_fallback,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// InScope reports whether the policy applies to the given tenant/workspace.
// A policy without a workspace applies tenant-wide.
func (p *Policy) InScope(tenantID, workspaceID string) bool {
	if p.Scope.TenantID != "" && p.Scope.TenantID != tenantID {
		return false
	}
	if p.Scope.WorkspaceID != "" && workspaceID != "" && p.Scope.WorkspaceID != workspaceID {
		return false
	}
	return true
}

// Store persists and retrieves policies.
type Store interface {
	// ListByScope returns all policies (enabled and disabled) for a tenant,
	// including tenant-wide policies when workspaceID is set.
	ListByScope(ctx context.Context, tenantID, workspaceID string) ([]Policy, error)
	// Get returns a policy by ID.
	Get(ctx context.Context, policyID string) (*Policy, error)
	// Upsert creates or updates a policy keyed by PolicyID.
	Upsert(ctx context.Context, p *Policy) error
}
