package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/clasper/internal/domain/policy"
)

// PolicyStore implements policy.Store on the shared store. Conditions and
// effect are stored as JSON columns; scope and subject are flattened for
// indexed lookup.
type PolicyStore struct {
	store *Store
}

var _ policy.Store = (*PolicyStore)(nil)

// NewPolicyStore wires the policy port to the store.
func NewPolicyStore(store *Store) *PolicyStore {
	return &PolicyStore{store: store}
}

func (s *PolicyStore) Upsert(ctx context.Context, p *policy.Policy) error {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	effect, err := json.Marshal(p.Effect)
	if err != nil {
		return fmt.Errorf("marshal effect: %w", err)
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO policies
			(policy_id, tenant_id, workspace_id, subject_type, subject_name, conditions, condition_cel,
			 effect, precedence, enabled, explanation, is_fallback, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (policy_id) DO UPDATE SET
			tenant_id     = excluded.tenant_id,
			workspace_id  = excluded.workspace_id,
			subject_type  = excluded.subject_type,
			subject_name  = excluded.subject_name,
			conditions    = excluded.conditions,
			condition_cel = excluded.condition_cel,
			effect        = excluded.effect,
			precedence    = excluded.precedence,
			enabled       = excluded.enabled,
			explanation   = excluded.explanation,
			is_fallback   = excluded.is_fallback,
			updated_at    = excluded.updated_at`,
		p.PolicyID, p.Scope.TenantID, p.Scope.WorkspaceID, string(p.Subject.Type), p.Subject.Name,
		string(conditions), p.ConditionCEL, string(effect), p.Precedence, boolInt(p.Enabled),
		p.Explanation, boolInt(p.IsFallback),
		p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

func (s *PolicyStore) Get(ctx context.Context, policyID string) (*policy.Policy, error) {
	row := s.store.db.QueryRowContext(ctx, selectPolicy+` WHERE policy_id = ?`, policyID)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy %q not found", policyID)
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (s *PolicyStore) ListByScope(ctx context.Context, tenantID, workspaceID string) ([]policy.Policy, error) {
	// Tenant-wide policies (empty workspace) apply to every workspace.
	rows, err := s.store.db.QueryContext(ctx, selectPolicy+`
		WHERE tenant_id = ? AND (workspace_id = '' OR workspace_id IS NULL OR workspace_id = ?)
		ORDER BY precedence DESC, policy_id ASC`, tenantID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const selectPolicy = `
	SELECT policy_id, tenant_id, workspace_id, subject_type, subject_name, conditions, condition_cel,
	       effect, precedence, enabled, explanation, is_fallback, created_at, updated_at
	FROM policies`

func scanPolicy(row rowScanner) (*policy.Policy, error) {
	var (
		p           policy.Policy
		workspaceID sql.NullString
		subjectName sql.NullString
		conditions  sql.NullString
		cel         sql.NullString
		effect      string
		enabled     int
		explanation sql.NullString
		isFallback  int
		createdAt   string
		updatedAt   string
		subjectType string
	)
	if err := row.Scan(&p.PolicyID, &p.Scope.TenantID, &workspaceID, &subjectType, &subjectName,
		&conditions, &cel, &effect, &p.Precedence, &enabled, &explanation, &isFallback,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Scope.WorkspaceID = workspaceID.String
	p.Subject.Type = policy.SubjectType(subjectType)
	p.Subject.Name = subjectName.String
	p.ConditionCEL = cel.String
	p.Enabled = enabled != 0
	p.Explanation = explanation.String
	p.IsFallback = isFallback != 0
	if conditions.Valid && conditions.String != "" && conditions.String != "null" {
		if err := json.Unmarshal([]byte(conditions.String), &p.Conditions); err != nil {
			return nil, fmt.Errorf("decode conditions: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(effect), &p.Effect); err != nil {
		return nil, fmt.Errorf("decode effect: %w", err)
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
