package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openclaw/clasper/internal/config"
	"github.com/openclaw/clasper/internal/domain/audit"
	"github.com/openclaw/clasper/internal/domain/telemetry"
)

// IngestService is the idempotent sink for post-execution telemetry. Each
// envelope kind dedups on (execution_id, event_kind); only the first write
// has side effects.
type IngestService struct {
	traces   telemetry.TraceStore
	dedup    telemetry.DedupStore
	auditLog audit.Store
	cfg      *config.Config
	validate *validator.Validate
	logger   *slog.Logger
}

// NewIngestService wires the ingest service.
func NewIngestService(traces telemetry.TraceStore, dedup telemetry.DedupStore, auditLog audit.Store, cfg *config.Config, logger *slog.Logger) *IngestService {
	return &IngestService{
		traces:   traces,
		dedup:    dedup,
		auditLog: auditLog,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger.With("component", "ingest"),
	}
}

func (s *IngestService) tenantOf(env *telemetry.Envelope) string {
	if env.TenantID != "" {
		return env.TenantID
	}
	return s.cfg.Tenant.LocalTenantID
}

// unmark releases a dedup key after a failed ingest so the adapter's retry is
// not misreported as a duplicate.
func (s *IngestService) unmark(ctx context.Context, executionID, eventKind string) {
	if err := s.dedup.UnmarkIngested(ctx, executionID, eventKind); err != nil {
		s.logger.Error("dedup rollback failed",
			"execution_id", executionID,
			"event_kind", eventKind,
			"error", err)
	}
}

// IngestTrace verifies step integrity, derives trust, persists the trace, and
// records the ingest on the audit chain.
func (s *IngestService) IngestTrace(ctx context.Context, env *telemetry.TraceEnvelope) (telemetry.IngestStatus, error) {
	if err := s.validate.Struct(env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	inserted, err := s.dedup.MarkIngested(ctx, env.ExecutionID, "trace")
	if err != nil {
		return "", err
	}
	if !inserted {
		return telemetry.IngestDuplicate, nil
	}

	integrity := telemetry.VerifyIntegrity(env)
	trust := telemetry.DeriveTrust(integrity, env.Violations)

	traceID := env.TraceID
	if traceID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			s.unmark(ctx, env.ExecutionID, "trace")
			return "", fmt.Errorf("mint trace id: %w", err)
		}
		traceID = id.String()
	}
	tr := &telemetry.Trace{
		TraceID:      traceID,
		ExecutionID:  env.ExecutionID,
		TenantID:     s.tenantOf(&env.Envelope),
		WorkspaceID:  env.WorkspaceID,
		AdapterID:    env.AdapterID,
		Steps:        env.Steps,
		GrantedScope: env.GrantedScope,
		UsedScope:    env.UsedScope,
		Violations:   env.Violations,
		Integrity:    integrity,
		Trust:        trust,
		IngestedAt:   time.Now().UTC(),
	}
	if err := s.traces.SaveTrace(ctx, tr); err != nil {
		s.unmark(ctx, env.ExecutionID, "trace")
		return "", err
	}

	if _, err := s.auditLog.Append(ctx, tr.TenantID, audit.EventAdapterTraceIngested, "adapter:"+tr.AdapterID, map[string]any{
		"trace_id":         tr.TraceID,
		"execution_id":     tr.ExecutionID,
		"steps":            len(tr.Steps),
		"integrity_status": string(tr.Integrity),
		"trust_status":     string(tr.Trust),
		"violations":       len(tr.Violations),
	}); err != nil {
		s.unmark(ctx, env.ExecutionID, "trace")
		return "", fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	s.logger.Info("trace ingested",
		"execution_id", tr.ExecutionID,
		"trust_status", tr.Trust,
		"steps", len(tr.Steps))
	return telemetry.IngestOK, nil
}

// IngestAudit appends an adapter-reported audit event onto the tenant chain.
// The dedup key is suffixed with the event type so distinct events for one
// execution are all recorded.
func (s *IngestService) IngestAudit(ctx context.Context, env *telemetry.AuditEnvelope) (telemetry.IngestStatus, error) {
	if err := s.validate.Struct(env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	inserted, err := s.dedup.MarkIngested(ctx, env.ExecutionID, "audit:"+env.EventType)
	if err != nil {
		return "", err
	}
	if !inserted {
		return telemetry.IngestDuplicate, nil
	}

	data := map[string]any{
		"execution_id": env.ExecutionID,
		"adapter_id":   env.AdapterID,
	}
	for k, v := range env.Data {
		data[k] = v
	}
	if env.TraceID != "" {
		data["trace_id"] = env.TraceID
	}
	if _, err := s.auditLog.Append(ctx, s.tenantOf(&env.Envelope), env.EventType, "adapter:"+env.AdapterID, data); err != nil {
		s.unmark(ctx, env.ExecutionID, "audit:"+env.EventType)
		return "", fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	return telemetry.IngestOK, nil
}

// IngestCost records a cost sample and checks the tenant budget. Overruns
// are audited but never block ingest.
func (s *IngestService) IngestCost(ctx context.Context, env *telemetry.CostEnvelope) (telemetry.IngestStatus, error) {
	if err := s.validate.Struct(env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	inserted, err := s.dedup.MarkIngested(ctx, env.ExecutionID, "cost")
	if err != nil {
		return "", err
	}
	if !inserted {
		return telemetry.IngestDuplicate, nil
	}

	env.TenantID = s.tenantOf(&env.Envelope)
	total, err := s.traces.AddCost(ctx, env)
	if err != nil {
		s.unmark(ctx, env.ExecutionID, "cost")
		return "", err
	}

	budget := s.cfg.Telemetry.CostBudget
	if budget > 0 && total > budget {
		if _, err := s.auditLog.Append(ctx, env.TenantID, audit.EventCostBudgetExceeded, "system", map[string]any{
			"execution_id": env.ExecutionID,
			"total":        total,
			"budget":       budget,
		}); err != nil {
			s.logger.Warn("budget audit write failed", "error", err)
		}
		s.logger.Warn("cost budget exceeded", "total", total, "budget", budget)
	}
	return telemetry.IngestOK, nil
}

// IngestMetrics records generic metrics. The samples only feed dashboards,
// so dedup is the only side effect tracked here.
func (s *IngestService) IngestMetrics(ctx context.Context, env *telemetry.MetricsEnvelope) (telemetry.IngestStatus, error) {
	if err := s.validate.Struct(env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	inserted, err := s.dedup.MarkIngested(ctx, env.ExecutionID, "metrics")
	if err != nil {
		return "", err
	}
	if !inserted {
		return telemetry.IngestDuplicate, nil
	}
	s.logger.Info("metrics ingested", "execution_id", env.ExecutionID, "count", len(env.Metrics))
	return telemetry.IngestOK, nil
}

// IngestViolation records a scope violation on the audit chain. The dedup
// key is suffixed with the violation type.
func (s *IngestService) IngestViolation(ctx context.Context, env *telemetry.ViolationEnvelope) (telemetry.IngestStatus, error) {
	if err := s.validate.Struct(env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	inserted, err := s.dedup.MarkIngested(ctx, env.ExecutionID, "violation:"+env.Type)
	if err != nil {
		return "", err
	}
	if !inserted {
		return telemetry.IngestDuplicate, nil
	}

	if _, err := s.auditLog.Append(ctx, s.tenantOf(&env.Envelope), "adapter_violation_ingested", "adapter:"+env.AdapterID, map[string]any{
		"execution_id": env.ExecutionID,
		"type":         env.Type,
		"severity":     env.Severity,
		"detail":       env.Detail,
	}); err != nil {
		s.unmark(ctx, env.ExecutionID, "violation:"+env.Type)
		return "", fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	return telemetry.IngestOK, nil
}
