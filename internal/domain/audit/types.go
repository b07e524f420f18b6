// Package audit contains the tamper-evident audit log domain: entries form a
// per-tenant hash chain, each entry's hash covering its predecessor's hash so
// that any retroactive edit invalidates every later hash.
package audit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no audit entry matches the lookup.
var ErrNotFound = errors.New("audit entry not found")

// Event types recorded by the control plane.
const (
	EventToolExecutionBlocked   = "tool_execution_blocked"
	EventPolicyDecisionResolved = "policy_decision_resolved"
	EventPolicyDecisionAuto     = "policy_decision_auto_allowed"
	EventAdapterTraceIngested   = "adapter_trace_ingested"
	EventApprovalPendingReused  = "approval_pending_reused"
	EventToolExecutionCompleted = "tool_execution_completed"
	EventCostBudgetExceeded     = "cost_budget_exceeded"
	EventPolicyCreatedViaWizard = "policy_created_via_wizard"
	EventPolicyUpdatedViaWizard = "policy_updated_via_wizard"
	EventAdapterRegistered      = "adapter_registered"
	EventPolicyDecisionCreated  = "policy_decision_created"
)

// Entry is one audit log row. Seq is assigned per tenant at append time and
// is strictly increasing; Hash covers (tenant, seq, prev hash, event type,
// canonical data).
type Entry struct {
	ID        int64          `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Seq       int64          `json:"seq"`
	EventType string         `json:"event_type"`
	Actor     string         `json:"actor,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListOptions filters audit reads.
type ListOptions struct {
	EventType string
	Since     time.Time
	Limit     int
	Offset    int
}

// VerifyResult is the outcome of a chain walk.
type VerifyResult struct {
	Verified    bool  `json:"verified"`
	Entries     int64 `json:"entries"`
	FirstBadSeq int64 `json:"first_bad_seq,omitempty"`
}

// Store persists the audit chain.
type Store interface {
	// Append assigns the next per-tenant sequence number, links and hashes
	// the entry, and inserts it. Appends for one tenant are serialized.
	Append(ctx context.Context, tenantID, eventType, actor string, data map[string]any) (*Entry, error)
	// List returns entries for a tenant in sequence order.
	List(ctx context.Context, tenantID string, opts ListOptions) ([]Entry, error)
	// Verify walks the tenant's chain from seq 1 and recomputes every hash.
	Verify(ctx context.Context, tenantID string) (*VerifyResult, error)
}
