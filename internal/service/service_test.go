package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/openclaw/clasper/internal/adapter/outbound/sqlite"
	"github.com/openclaw/clasper/internal/config"
	"github.com/openclaw/clasper/internal/domain/adapter"
	"github.com/openclaw/clasper/internal/domain/audit"
	"github.com/openclaw/clasper/internal/domain/decision"
	"github.com/openclaw/clasper/internal/domain/policy"
	"github.com/openclaw/clasper/internal/domain/request"
	"github.com/openclaw/clasper/internal/domain/telemetry"
	"github.com/openclaw/clasper/internal/domain/token"
)

type fixture struct {
	store     *sqlite.Store
	cfg       *config.Config
	registry  *RegistryService
	decisions *DecisionService
	approvals *ApprovalService
	policies  *PolicyService
	ingest    *IngestService
	auditLog  audit.Store
	polStore  policy.Store
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Auth.AdapterJWTSecret = "test-secret-please-rotate"
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	tokens, err := token.NewManager(cfg.Auth.AdapterJWTSecret, cfg.Auth.AdapterJWTAlgorithm,
		cfg.AdapterTokenTTLDuration(), cfg.Tenant.LocalTenantID, cfg.Tenant.LocalWorkspaceID)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	reg := sqlite.NewAdapterRegistry(store)
	pols := sqlite.NewPolicyStore(store)
	ledger := sqlite.NewDecisionLedger(store)
	toolAuth := sqlite.NewToolAuthorizations(store)
	auditLog := sqlite.NewAuditLog(store)
	tel := sqlite.NewTelemetryStore(store)

	f := &fixture{
		store:    store,
		cfg:      cfg,
		auditLog: auditLog,
		polStore: pols,
	}
	f.registry = NewRegistryService(reg, tokens, auditLog, cfg.Tenant.LocalTenantID, logger)
	f.decisions = NewDecisionService(pols, reg, ledger, toolAuth, auditLog, nil, cfg, logger)
	f.approvals = NewApprovalService(ledger, pols, reg, auditLog, nil, cfg, logger)
	f.policies = NewPolicyService(pols, f.approvals, ledger, auditLog, nil, cfg, logger)
	f.ingest = NewIngestService(tel, tel, auditLog, cfg, logger)
	return f
}

func (f *fixture) registerShellAdapter(t *testing.T, caps ...string) {
	t.Helper()
	if len(caps) == 0 {
		caps = []string{"delete", "exec", "fs.read", "fs.write"}
	}
	_, err := f.registry.Register(context.Background(), &adapter.Registration{
		AdapterID:    "openclaw-local",
		Version:      "1.0.0",
		RiskClass:    adapter.RiskHigh,
		Capabilities: caps,
	})
	if err != nil {
		t.Fatalf("register adapter: %v", err)
	}
}

func (f *fixture) upsertPolicy(t *testing.T, p policy.Policy) {
	t.Helper()
	if p.Scope.TenantID == "" {
		p.Scope.TenantID = "local"
	}
	if err := f.polStore.Upsert(context.Background(), &p); err != nil {
		t.Fatalf("upsert policy %s: %v", p.PolicyID, err)
	}
}

func (f *fixture) auditEvents(t *testing.T, eventType string) []audit.Entry {
	t.Helper()
	entries, err := f.auditLog.List(context.Background(), "local", audit.ListOptions{EventType: eventType})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return entries
}

func deleteReq() *request.ExecutionRequest {
	return &request.ExecutionRequest{
		AdapterID:             "openclaw-local",
		RequestedCapabilities: []string{"delete"},
		Tool:                  "delete",
		ToolGroup:             "filesystem",
		Context: request.Context{
			WritesFiles: true,
			Targets:     request.Targets{Paths: []string{"/tmp/x"}},
		},
	}
}

func TestDeleteBlockedScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.registerShellAdapter(t, "delete")
	f.upsertPolicy(t, policy.Policy{
		PolicyID:    "openclaw-deny-delete-file",
		Subject:     policy.Subject{Type: policy.SubjectTool, Name: "delete"},
		Effect:      policy.Effect{Decision: policy.DecisionDeny},
		Precedence:  30,
		Enabled:     true,
		Explanation: "destructive file operations are blocked",
	})

	d, err := f.decisions.Request(ctx, deleteReq())
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d.Effect != decision.EffectDeny {
		t.Errorf("effect = %s, want deny", d.Effect)
	}
	if len(d.MatchedPolicies) != 1 || d.MatchedPolicies[0] != "openclaw-deny-delete-file" {
		t.Errorf("matched = %v", d.MatchedPolicies)
	}
	if got := f.auditEvents(t, audit.EventToolExecutionBlocked); len(got) != 1 {
		t.Errorf("tool_execution_blocked entries = %d, want 1", len(got))
	}
}

func TestApprovalFlowScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.registerShellAdapter(t)
	f.upsertPolicy(t, policy.Policy{
		PolicyID:   "openclaw-require-approval-exec",
		Subject:    policy.Subject{Type: policy.SubjectTool, Name: "exec"},
		Effect:     policy.Effect{Decision: policy.DecisionRequireApproval},
		Precedence: 20,
		Enabled:    true,
	})

	req := &request.ExecutionRequest{
		AdapterID:             "openclaw-local",
		RequestedCapabilities: []string{"exec"},
		Tool:                  "exec",
		Context:               request.Context{Exec: &request.Exec{Argv0: "rm"}},
	}
	d, err := f.decisions.Request(ctx, req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d.Effect != decision.EffectRequireApproval || d.Status != decision.StatusPending {
		t.Fatalf("effect=%s status=%s, want require_approval/pending", d.Effect, d.Status)
	}

	// Short justification is refused for local approvals.
	_, err = f.approvals.Resolve(ctx, ResolveInput{
		DecisionID: d.DecisionID, Action: "approve", Justification: "short",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("short justification err = %v, want ErrValidation", err)
	}

	resolved, err := f.approvals.Resolve(ctx, ResolveInput{
		DecisionID:    d.DecisionID,
		Action:        "approve",
		Justification: "ok for test, reviewed by operator",
		ResolverID:    "operator-1",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Effect != decision.EffectAllow || resolved.Status != decision.StatusApproved {
		t.Errorf("resolved effect=%s status=%s", resolved.Effect, resolved.Status)
	}
	if resolved.Resolution == nil || resolved.Resolution.ApprovalType != "local" {
		t.Errorf("resolution = %+v", resolved.Resolution)
	}

	// The poller sees the terminal effect.
	latest, err := f.decisions.GetByExecutionID(ctx, d.ExecutionID)
	if err != nil {
		t.Fatalf("GetByExecutionID: %v", err)
	}
	if latest.Effect != decision.EffectAllow {
		t.Errorf("latest effect = %s", latest.Effect)
	}

	// Re-resolving a terminal decision is an idempotent no-op.
	again, err := f.approvals.Resolve(ctx, ResolveInput{
		DecisionID:    d.DecisionID,
		Action:        "deny",
		Justification: "attempting to flip the outcome",
	})
	if err != nil {
		t.Fatalf("re-Resolve: %v", err)
	}
	if again.Status != decision.StatusApproved {
		t.Errorf("terminal row mutated: %s", again.Status)
	}
	if got := f.auditEvents(t, audit.EventPolicyDecisionResolved); len(got) != 1 {
		t.Errorf("policy_decision_resolved entries = %d, want 1", len(got))
	}
}

func TestSafeShellReadsScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Policy.OperatorsEnabled = true
		cfg.Tenant.WorkspaceRoot = "/ws"
	})
	f.registerShellAdapter(t, "exec")
	f.upsertPolicy(t, policy.Policy{
		PolicyID: "openclaw-allow-safe-shell-reads-local",
		Subject:  policy.Subject{Type: policy.SubjectTool, Name: "exec"},
		Conditions: map[string]any{
			"context.exec.argv0":    map[string]any{"in": []any{"ls", "pwd", "whoami"}},
			"context.targets.paths": map[string]any{"all_under": []any{"{{workspace.root}}"}},
		},
		Effect:     policy.Effect{Decision: policy.DecisionAllow},
		Precedence: 40,
		Enabled:    true,
	})

	d, err := f.decisions.Request(ctx, &request.ExecutionRequest{
		AdapterID:             "openclaw-local",
		RequestedCapabilities: []string{"exec"},
		Tool:                  "exec",
		Context: request.Context{
			Exec:    &request.Exec{Argv0: "ls"},
			Targets: request.Targets{Paths: []string{"/ws/src"}},
		},
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d.Effect != decision.EffectAllow {
		t.Fatalf("effect = %s, want allow", d.Effect)
	}
	if d.GrantedScope == nil {
		t.Fatal("allow decision missing granted scope")
	}
	found := false
	for _, c := range d.GrantedScope.Capabilities {
		if c == "exec" {
			found = true
		}
	}
	if !found {
		t.Errorf("granted capabilities %v missing exec", d.GrantedScope.Capabilities)
	}
}

func TestSimulateModeScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Policy.ApprovalMode = config.ApprovalModeSimulate
	})
	f.registerShellAdapter(t)
	f.upsertPolicy(t, policy.Policy{
		PolicyID:   "openclaw-require-approval-exec",
		Subject:    policy.Subject{Type: policy.SubjectTool, Name: "exec"},
		Effect:     policy.Effect{Decision: policy.DecisionRequireApproval},
		Precedence: 20,
		Enabled:    true,
	})

	d, err := f.decisions.Request(ctx, &request.ExecutionRequest{
		AdapterID:             "openclaw-local",
		RequestedCapabilities: []string{"exec"},
		Tool:                  "exec",
		Context:               request.Context{Exec: &request.Exec{Argv0: "rm"}},
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d.Effect != decision.EffectAllow || !d.AutoAllowedInCore || d.ApprovalSource != "config_override" {
		t.Errorf("simulate upgrade wrong: effect=%s auto=%v source=%q", d.Effect, d.AutoAllowedInCore, d.ApprovalSource)
	}
	if got := f.auditEvents(t, audit.EventPolicyDecisionAuto); len(got) != 1 {
		t.Errorf("policy_decision_auto_allowed entries = %d, want 1", len(got))
	}
}

func TestDuplicateExecutionReturnsExisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.registerShellAdapter(t)

	req := deleteReq()
	first, err := f.decisions.Request(ctx, req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	replay := deleteReq()
	replay.ExecutionID = first.ExecutionID
	second, err := f.decisions.Request(ctx, replay)
	if err != nil {
		t.Fatalf("replay Request: %v", err)
	}
	if second.DecisionID != first.DecisionID {
		t.Errorf("replay produced new decision %s, want %s", second.DecisionID, first.DecisionID)
	}
}

func TestReconcilePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.registerShellAdapter(t)
	f.upsertPolicy(t, policy.Policy{
		PolicyID:   "openclaw-require-approval-exec",
		Subject:    policy.Subject{Type: policy.SubjectTool, Name: "exec"},
		Effect:     policy.Effect{Decision: policy.DecisionRequireApproval},
		Precedence: 20,
		Enabled:    true,
	})

	d, err := f.decisions.Request(ctx, &request.ExecutionRequest{
		AdapterID:             "openclaw-local",
		RequestedCapabilities: []string{"exec"},
		Tool:                  "exec",
		Context:               request.Context{Exec: &request.Exec{Argv0: "ls"}},
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d.Status != decision.StatusPending {
		t.Fatalf("status = %s, want pending", d.Status)
	}

	// A more specific allow policy now outranks the hold.
	f.upsertPolicy(t, policy.Policy{
		PolicyID: "openclaw-allow-ls",
		Subject:  policy.Subject{Type: policy.SubjectTool, Name: "exec"},
		Conditions: map[string]any{
			"context.exec.argv0": "ls",
		},
		Effect:     policy.Effect{Decision: policy.DecisionAllow},
		Precedence: 50,
		Enabled:    true,
	})
	// require_approval still outranks allow in the tie-break, so disable
	// the hold to let the exception through.
	hold, err := f.polStore.Get(ctx, "openclaw-require-approval-exec")
	if err != nil {
		t.Fatalf("get hold policy: %v", err)
	}
	hold.Enabled = false
	if err := f.polStore.Upsert(ctx, hold); err != nil {
		t.Fatalf("disable hold policy: %v", err)
	}

	res, err := f.approvals.ReconcilePending(ctx, "local", "")
	if err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	if res.ResolvedCount != 1 || len(res.ResolvedDecisionIDs) != 1 {
		t.Fatalf("reconcile result = %+v", res)
	}

	resolved, err := f.decisions.GetByExecutionID(ctx, d.ExecutionID)
	if err != nil {
		t.Fatalf("GetByExecutionID: %v", err)
	}
	if resolved.Status != decision.StatusApproved {
		t.Errorf("status = %s, want approved", resolved.Status)
	}
	if resolved.Resolution == nil || resolved.Resolution.Justification != "policy_exception_created" {
		t.Errorf("resolution = %+v", resolved.Resolution)
	}
}

func TestWizardAllowAckRequired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	in := &UpsertInput{
		Policy: policy.Policy{
			PolicyID: "openclaw-allow-reads",
			Subject:  policy.Subject{Type: policy.SubjectTool, Name: "read"},
			Effect:   policy.Effect{Decision: policy.DecisionAllow},
			Enabled:  true,
		},
	}
	if _, err := f.policies.Upsert(ctx, in); !errors.Is(err, ErrWizardAckRequired) {
		t.Fatalf("err = %v, want ErrWizardAckRequired", err)
	}
	// The refusal has no side effects.
	if _, err := f.polStore.Get(ctx, "openclaw-allow-reads"); err == nil {
		t.Error("policy persisted despite missing ack")
	}

	in.WizardAcknowledgedAllow = true
	res, err := f.policies.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("Upsert with ack: %v", err)
	}
	if !res.Created || res.SummaryHashAfter == "" {
		t.Errorf("result = %+v", res)
	}
	if got := f.auditEvents(t, audit.EventPolicyCreatedViaWizard); len(got) != 1 {
		t.Errorf("policy_created_via_wizard entries = %d, want 1", len(got))
	}
}

func TestPolicyUpsertAutoResolvesSourceTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.registerShellAdapter(t)
	f.upsertPolicy(t, policy.Policy{
		PolicyID:   "openclaw-fallback-require-approval",
		Subject:    policy.Subject{Type: policy.SubjectTool},
		Effect:     policy.Effect{Decision: policy.DecisionRequireApproval},
		Precedence: -1000,
		Enabled:    true,
		IsFallback: true,
	})

	d, err := f.decisions.Request(ctx, &request.ExecutionRequest{
		AdapterID:             "openclaw-local",
		RequestedCapabilities: []string{"exec"},
		Tool:                  "exec",
		Context:               request.Context{Exec: &request.Exec{Argv0: "pwd"}},
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !d.PolicyFallbackHit || d.Status != decision.StatusPending {
		t.Fatalf("fallback_hit=%v status=%s", d.PolicyFallbackHit, d.Status)
	}

	res, err := f.policies.Upsert(ctx, &UpsertInput{
		Policy: policy.Policy{
			PolicyID: "openclaw-allow-pwd",
			Subject:  policy.Subject{Type: policy.SubjectTool, Name: "exec"},
			Conditions: map[string]any{
				"context.exec.argv0": "pwd",
			},
			Effect:     policy.Effect{Decision: policy.DecisionAllow},
			Precedence: 60,
			Enabled:    true,
		},
		WizardAcknowledgedAllow: true,
		SourceTraceID:           d.ExecutionID,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// The fallback still matches, and require_approval outranks allow, so
	// the pending decision stays pending under the tie-break.
	if res.AutoResolvedID != "" {
		resolved, err := f.decisions.GetByExecutionID(ctx, d.ExecutionID)
		if err != nil {
			t.Fatalf("GetByExecutionID: %v", err)
		}
		if resolved.Status != decision.StatusApproved {
			t.Errorf("auto-resolved status = %s", resolved.Status)
		}
	}
}

func TestIngestDedupScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	env := &telemetry.TraceEnvelope{
		Envelope: telemetry.Envelope{
			ExecutionID: "0190f5b2-0000-7000-8000-00000000000a",
			AdapterID:   "openclaw-local",
		},
		Steps: []telemetry.Step{{Index: 0, Kind: "tool_call"}},
	}
	status, err := f.ingest.IngestTrace(ctx, env)
	if err != nil {
		t.Fatalf("first IngestTrace: %v", err)
	}
	if status != telemetry.IngestOK {
		t.Errorf("first status = %s, want ok", status)
	}

	status, err = f.ingest.IngestTrace(ctx, env)
	if err != nil {
		t.Fatalf("second IngestTrace: %v", err)
	}
	if status != telemetry.IngestDuplicate {
		t.Errorf("second status = %s, want duplicate", status)
	}
	if got := f.auditEvents(t, audit.EventAdapterTraceIngested); len(got) != 1 {
		t.Errorf("adapter_trace_ingested entries = %d, want 1", len(got))
	}
}

func TestIngestCostBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Telemetry.CostBudget = 1.0
	})

	env := &telemetry.CostEnvelope{
		Envelope: telemetry.Envelope{ExecutionID: "exec-cost-1", AdapterID: "openclaw-local"},
		Amount:   2.5,
	}
	status, err := f.ingest.IngestCost(ctx, env)
	if err != nil || status != telemetry.IngestOK {
		t.Fatalf("IngestCost: status=%s err=%v", status, err)
	}
	if got := f.auditEvents(t, audit.EventCostBudgetExceeded); len(got) != 1 {
		t.Errorf("cost_budget_exceeded entries = %d, want 1", len(got))
	}
}

type failingAuthStore struct{}

func (failingAuthStore) Append(context.Context, *decision.ToolAuthorization) error {
	return errors.New("authorization store unavailable")
}

func (failingAuthStore) ListByExecution(context.Context, string) ([]decision.ToolAuthorization, error) {
	return nil, errors.New("authorization store unavailable")
}

func (failingAuthStore) ListByTool(context.Context, string, string, int) ([]decision.ToolAuthorization, error) {
	return nil, errors.New("authorization store unavailable")
}

func TestAuthorizationWriteFailureRollsBackDecision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.registerShellAdapter(t, "delete")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	decisions := NewDecisionService(
		sqlite.NewPolicyStore(f.store),
		sqlite.NewAdapterRegistry(f.store),
		sqlite.NewDecisionLedger(f.store),
		failingAuthStore{},
		f.auditLog,
		nil, f.cfg, logger)

	req := deleteReq()
	if _, err := decisions.Request(ctx, req); err == nil {
		t.Fatal("expected error when the authorization write fails")
	}
	// The decision must not survive without its authorization row.
	if _, err := decisions.GetByExecutionID(ctx, req.ExecutionID); !errors.Is(err, decision.ErrNotFound) {
		t.Errorf("decision survived failed authorization write: err = %v", err)
	}
}

type failingAuditStore struct{}

func (failingAuditStore) Append(context.Context, string, string, string, map[string]any) (*audit.Entry, error) {
	return nil, errors.New("audit log unavailable")
}

func (failingAuditStore) List(context.Context, string, audit.ListOptions) ([]audit.Entry, error) {
	return nil, errors.New("audit log unavailable")
}

func (failingAuditStore) Verify(context.Context, string) (*audit.VerifyResult, error) {
	return nil, errors.New("audit log unavailable")
}

func TestIngestRetryAfterFailedWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	tel := sqlite.NewTelemetryStore(f.store)
	broken := NewIngestService(tel, tel, failingAuditStore{}, f.cfg, logger)

	env := &telemetry.TraceEnvelope{
		Envelope: telemetry.Envelope{
			ExecutionID: "0190f5b2-0000-7000-8000-00000000000b",
			AdapterID:   "openclaw-local",
		},
		Steps: []telemetry.Step{{Index: 0, Kind: "tool_call"}},
	}
	if _, err := broken.IngestTrace(ctx, env); !errors.Is(err, ErrAuditWrite) {
		t.Fatalf("IngestTrace err = %v, want ErrAuditWrite", err)
	}

	// A failed ingest releases its dedup key, so the retry is a fresh
	// ingest rather than a duplicate.
	status, err := f.ingest.IngestTrace(ctx, env)
	if err != nil {
		t.Fatalf("retry IngestTrace: %v", err)
	}
	if status != telemetry.IngestOK {
		t.Errorf("retry status = %s, want ok", status)
	}
}

func TestPolicyUpsertRejectsUnknownSubjectType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.policies.Upsert(ctx, &UpsertInput{
		Policy: policy.Policy{
			PolicyID: "openclaw-deny-typo",
			Subject:  policy.Subject{Type: "tol", Name: "delete"},
			Effect:   policy.Effect{Decision: policy.DecisionDeny},
			Enabled:  true,
		},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if _, err := f.polStore.Get(ctx, "openclaw-deny-typo"); err == nil {
		t.Error("policy persisted despite invalid subject type")
	}
}

func TestSeedFromFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	seed := `
policies:
  - policy_id: openclaw-deny-delete-file
    subject:
      type: tool
      name: delete
    effect:
      decision: deny
    precedence: 30
    enabled: true
    explanation: destructive file operations are blocked
  - policy_id: openclaw-fallback-require-approval
    subject:
      type: tool
    effect:
      decision: require_approval
    precedence: -1000
    enabled: true
    is_fallback: true
`
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	n, err := f.policies.SeedFromFile(ctx, path)
	if err != nil {
		t.Fatalf("SeedFromFile: %v", err)
	}
	if n != 2 {
		t.Errorf("seeded %d policies, want 2", n)
	}
	p, err := f.polStore.Get(ctx, "openclaw-fallback-require-approval")
	if err != nil {
		t.Fatalf("get seeded policy: %v", err)
	}
	if !p.IsFallback || p.Precedence != -1000 {
		t.Errorf("seeded policy = %+v", p)
	}
}
