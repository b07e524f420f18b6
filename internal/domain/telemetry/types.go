// Package telemetry contains the post-execution envelope types ingested by
// the control plane: traces, audit events, cost metrics, generic metrics, and
// violations, all correlated to a decision by execution_id.
package telemetry

import (
	"context"
	"time"
)

// IntegrityStatus is the declared/verified state of a trace's step hashes.
type IntegrityStatus string

const (
	IntegrityVerified    IntegrityStatus = "verified"
	IntegrityUnsigned    IntegrityStatus = "unsigned"
	IntegrityCompromised IntegrityStatus = "compromised"
	IntegrityUnverified  IntegrityStatus = "unverified"
)

// TrustStatus is derived from integrity status and recorded violations. It is
// never stored independently of its inputs.
type TrustStatus string

const (
	TrustVerified           TrustStatus = "verified"
	TrustVerifiedViolations TrustStatus = "verified_with_violations"
	TrustUnverified         TrustStatus = "unverified"
	TrustCompromised        TrustStatus = "compromised"
)

// Envelope is the common header every ingest payload carries.
type Envelope struct {
	TenantID    string    `json:"tenant_id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	ExecutionID string    `json:"execution_id" validate:"required"`
	TraceID     string    `json:"trace_id,omitempty"`
	AdapterID   string    `json:"adapter_id" validate:"required"`
	OccurredAt  time.Time `json:"occurred_at,omitempty"`
}

// Step is one trace step. Hash, when set, covers the step payload and the
// previous step's hash.
type Step struct {
	Index      int            `json:"index"`
	Kind       string         `json:"kind"`
	Detail     map[string]any `json:"detail,omitempty"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Hash       string         `json:"hash,omitempty"`
}

// UsedScope reports what the adapter actually consumed during execution.
type UsedScope struct {
	Capabilities []string `json:"capabilities,omitempty"`
	Steps        int      `json:"steps,omitempty"`
	Cost         float64  `json:"cost,omitempty"`
}

// Violation is a post-hoc detection that execution exceeded the granted
// scope or broke a declared constraint.
type Violation struct {
	Type     string         `json:"type" validate:"required"`
	Severity string         `json:"severity,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// TraceEnvelope is the trace ingest payload.
type TraceEnvelope struct {
	Envelope
	Steps        []Step          `json:"steps"`
	RootHash     string          `json:"root_hash,omitempty"`
	GrantedScope map[string]any  `json:"granted_scope,omitempty"`
	UsedScope    *UsedScope      `json:"used_scope,omitempty"`
	Violations   []Violation     `json:"violations,omitempty"`
	Integrity    IntegrityStatus `json:"integrity_status,omitempty"`
}

// Trace is the persisted post-execution narrative.
type Trace struct {
	TraceID      string          `json:"trace_id"`
	ExecutionID  string          `json:"execution_id"`
	TenantID     string          `json:"tenant_id"`
	WorkspaceID  string          `json:"workspace_id,omitempty"`
	AdapterID    string          `json:"adapter_id"`
	Steps        []Step          `json:"steps"`
	GrantedScope map[string]any  `json:"granted_scope,omitempty"`
	UsedScope    *UsedScope      `json:"used_scope,omitempty"`
	Violations   []Violation     `json:"violations,omitempty"`
	Integrity    IntegrityStatus `json:"integrity_status"`
	Trust        TrustStatus     `json:"trust_status"`
	IngestedAt   time.Time       `json:"ingested_at"`
}

// AuditEnvelope is the audit ingest payload. EventType suffixes the dedup
// key so distinct event types for one execution are not collapsed.
type AuditEnvelope struct {
	Envelope
	EventType string         `json:"event_type" validate:"required"`
	Data      map[string]any `json:"data,omitempty"`
}

// CostEnvelope is the cost ingest payload.
type CostEnvelope struct {
	Envelope
	Amount   float64 `json:"amount" validate:"gte=0"`
	Currency string  `json:"currency,omitempty"`
	Model    string  `json:"model,omitempty"`
	Tokens   int64   `json:"tokens,omitempty"`
}

// MetricsEnvelope is the generic metrics ingest payload.
type MetricsEnvelope struct {
	Envelope
	Metrics map[string]float64 `json:"metrics"`
}

// ViolationEnvelope is the violation ingest payload. The violation type
// suffixes the dedup key.
type ViolationEnvelope struct {
	Envelope
	Violation
}

// IngestStatus is the ingest outcome exposed on the wire.
type IngestStatus string

const (
	IngestOK        IngestStatus = "ok"
	IngestDuplicate IngestStatus = "duplicate"
)

// CostCounter is a tenant's running spend against its budget.
type CostCounter struct {
	TenantID string  `json:"tenant_id"`
	Total    float64 `json:"total"`
	Budget   float64 `json:"budget,omitempty"`
}

// TraceStore persists ingested traces and cost records.
type TraceStore interface {
	// SaveTrace persists a trace row.
	SaveTrace(ctx context.Context, tr *Trace) error
	// GetTrace returns the trace for an execution.
	GetTrace(ctx context.Context, executionID string) (*Trace, error)
	// AddCost records a cost row and returns the tenant's running total.
	AddCost(ctx context.Context, env *CostEnvelope) (total float64, err error)
}

// DedupStore implements the atomic (execution_id, event_kind) guard.
type DedupStore interface {
	// MarkIngested inserts the dedup key. inserted=false means the key was
	// already present and the ingest is a duplicate.
	MarkIngested(ctx context.Context, executionID, eventKind string) (inserted bool, err error)
	// UnmarkIngested removes a dedup key so a failed ingest can be retried.
	UnmarkIngested(ctx context.Context, executionID, eventKind string) error
}
