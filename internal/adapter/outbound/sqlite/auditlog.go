package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/clasper/internal/domain/audit"
)

// AuditLog implements audit.Store: an append-only, per-tenant hash chain.
// Appends for one tenant are serialized under a tenant lock so seq stays
// monotone and gap-free.
type AuditLog struct {
	store *Store
}

var _ audit.Store = (*AuditLog)(nil)

// NewAuditLog wires the audit port to the store.
func NewAuditLog(store *Store) *AuditLog {
	return &AuditLog{store: store}
}

func (a *AuditLog) Append(ctx context.Context, tenantID, eventType, actor string, data map[string]any) (*audit.Entry, error) {
	mu := a.store.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	var (
		seq      int64
		prevHash string
	)
	err := a.store.db.QueryRowContext(ctx, `
		SELECT seq, hash FROM audit_log WHERE tenant_id = ? ORDER BY seq DESC LIMIT 1`,
		tenantID).Scan(&seq, &prevHash)
	if errors.Is(err, sql.ErrNoRows) {
		seq, prevHash = 0, audit.GenesisPrevHash
	} else if err != nil {
		return nil, fmt.Errorf("read chain head: %w", err)
	}

	// Hash the same shape Verify will re-decode from the data column.
	// A JSON round trip collapses Go-only distinctions such as a nil
	// slice versus an empty one.
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal audit data: %w", err)
	}
	var normalized map[string]any
	if err := json.Unmarshal(payload, &normalized); err != nil {
		return nil, fmt.Errorf("normalize audit data: %w", err)
	}

	entry := &audit.Entry{
		TenantID:  tenantID,
		Seq:       seq + 1,
		EventType: eventType,
		Actor:     actor,
		Data:      normalized,
		PrevHash:  prevHash,
		CreatedAt: time.Now().UTC(),
	}
	entry.Hash, err = audit.ComputeHash(tenantID, entry.Seq, entry.PrevHash, eventType, normalized)
	if err != nil {
		return nil, err
	}
	res, err := a.store.db.ExecContext(ctx, `
		INSERT INTO audit_log (tenant_id, seq, event_type, actor, data, prev_hash, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tenantID, entry.Seq, eventType, actor, string(payload), entry.PrevHash, entry.Hash,
		entry.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	return entry, nil
}

func (a *AuditLog) List(ctx context.Context, tenantID string, opts audit.ListOptions) ([]audit.Entry, error) {
	query := `
		SELECT id, tenant_id, seq, event_type, actor, data, prev_hash, hash, created_at
		FROM audit_log WHERE tenant_id = ?`
	args := []any{tenantID}
	if opts.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, opts.EventType)
	}
	if !opts.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, opts.Since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY seq ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := a.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e         audit.Entry
			actor     sql.NullString
			data      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Seq, &e.EventType, &actor, &data, &e.PrevHash, &e.Hash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Actor = actor.String
		if data.Valid && data.String != "" && data.String != "null" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("decode audit data: %w", err)
			}
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify replays the tenant's full chain and recomputes every hash.
func (a *AuditLog) Verify(ctx context.Context, tenantID string) (*audit.VerifyResult, error) {
	entries, err := a.List(ctx, tenantID, audit.ListOptions{})
	if err != nil {
		return nil, err
	}
	return audit.VerifyEntries(tenantID, entries), nil
}
