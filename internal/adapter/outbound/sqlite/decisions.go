package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/clasper/internal/domain/decision"
)

// DecisionLedger implements decision.Ledger. The full decision document is a
// JSON column; effect and status are flattened for querying and for the
// terminal-state guard.
type DecisionLedger struct {
	store *Store
}

var _ decision.Ledger = (*DecisionLedger)(nil)

// NewDecisionLedger wires the ledger port to the store.
func NewDecisionLedger(store *Store) *DecisionLedger {
	return &DecisionLedger{store: store}
}

func (l *DecisionLedger) Create(ctx context.Context, d *decision.Decision) (*decision.Decision, bool, error) {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	body, err := json.Marshal(d)
	if err != nil {
		return nil, false, fmt.Errorf("marshal decision: %w", err)
	}

	_, err = l.store.db.ExecContext(ctx, `
		INSERT INTO decisions
			(decision_id, execution_id, tenant_id, workspace_id, adapter_id, effect, status, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DecisionID, d.ExecutionID, d.TenantID, d.WorkspaceID, d.AdapterID,
		string(d.Effect), string(d.Status), string(body),
		d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		// The losing side of a concurrent duplicate create converges on
		// the stored row.
		if isUniqueViolation(err) {
			existing, getErr := l.GetByExecutionID(ctx, d.ExecutionID)
			if getErr != nil {
				return nil, false, fmt.Errorf("load existing decision: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert decision: %w", err)
	}
	return d, true, nil
}

func (l *DecisionLedger) GetByExecutionID(ctx context.Context, executionID string) (*decision.Decision, error) {
	return l.getWhere(ctx, "execution_id = ?", executionID)
}

func (l *DecisionLedger) Get(ctx context.Context, decisionID string) (*decision.Decision, error) {
	return l.getWhere(ctx, "decision_id = ?", decisionID)
}

func (l *DecisionLedger) getWhere(ctx context.Context, where string, arg any) (*decision.Decision, error) {
	var body string
	err := l.store.db.QueryRowContext(ctx, `SELECT body FROM decisions WHERE `+where, arg).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, decision.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return decodeDecision(body)
}

func (l *DecisionLedger) ListPending(ctx context.Context, tenantID, workspaceID string) ([]decision.Decision, error) {
	query := `SELECT body FROM decisions WHERE tenant_id = ? AND status = ?`
	args := []any{tenantID, string(decision.StatusPending)}
	if workspaceID != "" {
		query += ` AND (workspace_id = '' OR workspace_id IS NULL OR workspace_id = ?)`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := l.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending decisions: %w", err)
	}
	defer rows.Close()

	var out []decision.Decision
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d, err := decodeDecision(body)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (l *DecisionLedger) Resolve(ctx context.Context, decisionID string, status decision.Status, effect decision.Effect, res decision.Resolution) (*decision.Decision, error) {
	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin resolve: %w", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx, `SELECT body FROM decisions WHERE decision_id = ?`, decisionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, decision.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load decision: %w", err)
	}
	d, err := decodeDecision(body)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return d, decision.ErrTerminal
	}

	d.Status = status
	d.Effect = effect
	d.Resolution = &res
	d.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE decisions SET effect = ?, status = ?, body = ?, updated_at = ?
		WHERE decision_id = ?`,
		string(d.Effect), string(d.Status), string(updated),
		d.UpdatedAt.Format(time.RFC3339Nano), decisionID); err != nil {
		return nil, fmt.Errorf("update decision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit resolve: %w", err)
	}
	return d, nil
}

func (l *DecisionLedger) Delete(ctx context.Context, decisionID string) error {
	if _, err := l.store.db.ExecContext(ctx, `DELETE FROM decisions WHERE decision_id = ?`, decisionID); err != nil {
		return fmt.Errorf("delete decision: %w", err)
	}
	return nil
}

func decodeDecision(body string) (*decision.Decision, error) {
	var d decision.Decision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ToolAuthorizations implements decision.AuthorizationStore.
type ToolAuthorizations struct {
	store *Store
}

var _ decision.AuthorizationStore = (*ToolAuthorizations)(nil)

// NewToolAuthorizations wires the authorization port to the store.
func NewToolAuthorizations(store *Store) *ToolAuthorizations {
	return &ToolAuthorizations{store: store}
}

func (t *ToolAuthorizations) Append(ctx context.Context, ta *decision.ToolAuthorization) error {
	if ta.CreatedAt.IsZero() {
		ta.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(ta)
	if err != nil {
		return fmt.Errorf("marshal tool authorization: %w", err)
	}
	// First write wins; the row is read-only afterwards.
	_, err = t.store.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tool_authorizations
			(execution_id, tool, tenant_id, adapter_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ta.ExecutionID, ta.Tool, ta.TenantID, ta.AdapterID, string(body),
		ta.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append tool authorization: %w", err)
	}
	return nil
}

func (t *ToolAuthorizations) ListByExecution(ctx context.Context, executionID string) ([]decision.ToolAuthorization, error) {
	return t.list(ctx, `SELECT body FROM tool_authorizations WHERE execution_id = ? ORDER BY created_at`, executionID)
}

func (t *ToolAuthorizations) ListByTool(ctx context.Context, tenantID, tool string, limit int) ([]decision.ToolAuthorization, error) {
	if limit <= 0 {
		limit = 100
	}
	return t.list(ctx, `
		SELECT body FROM tool_authorizations
		WHERE tenant_id = ? AND tool = ?
		ORDER BY created_at DESC LIMIT ?`, tenantID, tool, limit)
}

func (t *ToolAuthorizations) list(ctx context.Context, query string, args ...any) ([]decision.ToolAuthorization, error) {
	rows, err := t.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tool authorizations: %w", err)
	}
	defer rows.Close()

	var out []decision.ToolAuthorization
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan tool authorization: %w", err)
		}
		var ta decision.ToolAuthorization
		if err := json.Unmarshal([]byte(body), &ta); err != nil {
			return nil, fmt.Errorf("decode tool authorization: %w", err)
		}
		out = append(out, ta)
	}
	return out, rows.Err()
}
