package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/clasper/internal/domain/adapter"
)

// AdapterRegistry implements adapter.Registry on the shared store.
type AdapterRegistry struct {
	store *Store
}

var _ adapter.Registry = (*AdapterRegistry)(nil)

// NewAdapterRegistry wires the registry port to the store.
func NewAdapterRegistry(store *Store) *AdapterRegistry {
	return &AdapterRegistry{store: store}
}

func (r *AdapterRegistry) Upsert(ctx context.Context, a *adapter.Adapter) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO adapter_registry
			(tenant_id, adapter_id, version, display_name, risk_class, capabilities, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, adapter_id, version) DO UPDATE SET
			display_name = excluded.display_name,
			risk_class   = excluded.risk_class,
			capabilities = excluded.capabilities,
			enabled      = excluded.enabled,
			updated_at   = excluded.updated_at`,
		a.TenantID, a.AdapterID, a.Version, a.DisplayName, string(a.RiskClass),
		string(caps), boolInt(a.Enabled), a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert adapter: %w", err)
	}
	return nil
}

func (r *AdapterRegistry) Get(ctx context.Context, tenantID, adapterID, version string) (*adapter.Adapter, error) {
	query := `
		SELECT tenant_id, adapter_id, version, display_name, risk_class, capabilities, enabled, created_at, updated_at
		FROM adapter_registry
		WHERE tenant_id = ? AND adapter_id = ?`
	args := []any{tenantID, adapterID}
	if version != "" {
		query += ` AND version = ?`
		args = append(args, version)
	} else {
		query += ` ORDER BY updated_at DESC LIMIT 1`
	}

	row := r.store.db.QueryRowContext(ctx, query, args...)
	a, err := scanAdapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adapter.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get adapter: %w", err)
	}
	return a, nil
}

func (r *AdapterRegistry) List(ctx context.Context, tenantID string, opts adapter.ListOptions) ([]adapter.Adapter, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT tenant_id, adapter_id, version, display_name, risk_class, capabilities, enabled, created_at, updated_at
		FROM adapter_registry
		WHERE tenant_id = ?
		ORDER BY adapter_id, version
		LIMIT ? OFFSET ?`, tenantID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list adapters: %w", err)
	}
	defer rows.Close()

	var out []adapter.Adapter
	for rows.Next() {
		a, err := scanAdapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adapter: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdapter(row rowScanner) (*adapter.Adapter, error) {
	var (
		a         adapter.Adapter
		risk      string
		caps      string
		enabled   int
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&a.TenantID, &a.AdapterID, &a.Version, &a.DisplayName, &risk, &caps, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.RiskClass = adapter.RiskClass(risk)
	a.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
