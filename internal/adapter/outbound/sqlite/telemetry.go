package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/clasper/internal/domain/telemetry"
)

// TelemetryStore implements telemetry.TraceStore and telemetry.DedupStore.
// Dedup relies on the UNIQUE (execution_id, event_type) constraint so the
// first-writer-wins race is settled by the database.
type TelemetryStore struct {
	store *Store
}

var (
	_ telemetry.TraceStore = (*TelemetryStore)(nil)
	_ telemetry.DedupStore = (*TelemetryStore)(nil)
)

// NewTelemetryStore wires the telemetry ports to the store.
func NewTelemetryStore(store *Store) *TelemetryStore {
	return &TelemetryStore{store: store}
}

func (t *TelemetryStore) MarkIngested(ctx context.Context, executionID, eventKind string) (bool, error) {
	res, err := t.store.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ingest_dedup (execution_id, event_type, created_at)
		VALUES (?, ?, ?)`,
		executionID, eventKind, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("mark ingested: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark ingested: %w", err)
	}
	return n > 0, nil
}

func (t *TelemetryStore) UnmarkIngested(ctx context.Context, executionID, eventKind string) error {
	_, err := t.store.db.ExecContext(ctx, `
		DELETE FROM ingest_dedup WHERE execution_id = ? AND event_type = ?`,
		executionID, eventKind)
	if err != nil {
		return fmt.Errorf("unmark ingested: %w", err)
	}
	return nil
}

func (t *TelemetryStore) SaveTrace(ctx context.Context, tr *telemetry.Trace) error {
	body, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	_, err = t.store.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO traces (trace_id, execution_id, tenant_id, adapter_id, body, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tr.TraceID, tr.ExecutionID, tr.TenantID, tr.AdapterID, string(body),
		tr.IngestedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save trace: %w", err)
	}
	return nil
}

func (t *TelemetryStore) GetTrace(ctx context.Context, executionID string) (*telemetry.Trace, error) {
	var body string
	err := t.store.db.QueryRowContext(ctx,
		`SELECT body FROM traces WHERE execution_id = ?`, executionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trace for execution %q not found", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}
	var tr telemetry.Trace
	if err := json.Unmarshal([]byte(body), &tr); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return &tr, nil
}

func (t *TelemetryStore) AddCost(ctx context.Context, env *telemetry.CostEnvelope) (float64, error) {
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cost insert: %w", err)
	}
	defer tx.Rollback()

	recordedAt := env.OccurredAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cost_metrics (tenant_id, execution_id, adapter_id, amount, currency, model, tokens, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		env.TenantID, env.ExecutionID, env.AdapterID, env.Amount, env.Currency, env.Model, env.Tokens,
		recordedAt.Format(time.RFC3339Nano)); err != nil {
		return 0, fmt.Errorf("insert cost: %w", err)
	}

	var total float64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM cost_metrics WHERE tenant_id = ?`,
		env.TenantID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum cost: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cost: %w", err)
	}
	return total, nil
}
