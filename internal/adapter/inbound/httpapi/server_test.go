package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/openclaw/clasper/internal/adapter/outbound/sqlite"
	"github.com/openclaw/clasper/internal/config"
	"github.com/openclaw/clasper/internal/domain/policy"
	"github.com/openclaw/clasper/internal/domain/token"
	"github.com/openclaw/clasper/internal/service"
)

type testServer struct {
	ts       *httptest.Server
	tokens   *token.Manager
	polStore policy.Store
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Auth.AdapterJWTSecret = "test-secret-please-rotate"
	cfg.Auth.OpsLocalAPIKey = "ops-key"
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

	registrySvc := service.NewRegistryService(reg, tokens, auditLog, cfg.Tenant.LocalTenantID, logger)
	decisionSvc := service.NewDecisionService(pols, reg, ledger, toolAuth, auditLog, nil, cfg, logger)
	approvalSvc := service.NewApprovalService(ledger, pols, reg, auditLog, nil, cfg, logger)
	policySvc := service.NewPolicyService(pols, approvalSvc, ledger, auditLog, nil, cfg, logger)
	ingestSvc := service.NewIngestService(tel, tel, auditLog, cfg, logger)

	srv := NewServer(cfg, tokens, registrySvc, decisionSvc, approvalSvc, policySvc, ingestSvc, auditLog, store.DB(), logger, "test")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, tokens: tokens, polStore: pols}
}

func (s *testServer) adapterToken(t *testing.T) string {
	t.Helper()
	tok, err := s.tokens.Mint("openclaw-local", []string{"delete", "exec"})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path string, headers map[string]string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func (s *testServer) register(t *testing.T) string {
	t.Helper()
	tok := s.adapterToken(t)
	resp, body := s.do(t, http.MethodPost, "/adapters/register",
		map[string]string{"X-Adapter-Token": tok},
		map[string]any{
			"adapter_id":   "openclaw-local",
			"version":      "1.0.0",
			"risk_class":   "high",
			"capabilities": []string{"delete", "exec"},
		})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d body %v", resp.StatusCode, body)
	}
	fresh, _ := body["token"].(string)
	if fresh == "" {
		t.Fatal("registration did not return a token")
	}
	return fresh
}

func TestAdapterAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/execution/request", nil, map[string]any{"tool": "delete"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if body["code"] != "missing_token" {
		t.Errorf("code = %v, want missing_token", body["code"])
	}

	resp, body = s.do(t, http.MethodPost, "/api/execution/request",
		map[string]string{"X-Adapter-Token": "garbage"}, map[string]any{"tool": "delete"})
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "invalid_token" {
		t.Errorf("status=%d code=%v, want 401/invalid_token", resp.StatusCode, body["code"])
	}
}

func TestExecutionDenyFlow(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.register(t)

	deny := &policy.Policy{
		PolicyID:    "openclaw-deny-delete-file",
		Scope:       policy.Scope{TenantID: "local"},
		Subject:     policy.Subject{Type: policy.SubjectTool, Name: "delete"},
		Effect:      policy.Effect{Decision: policy.DecisionDeny},
		Precedence:  30,
		Enabled:     true,
		Explanation: "destructive file operations are blocked",
	}
	if err := s.polStore.Upsert(t.Context(), deny); err != nil {
		t.Fatalf("seed policy: %v", err)
	}

	resp, body := s.do(t, http.MethodPost, "/api/execution/request",
		map[string]string{"X-Adapter-Token": tok},
		map[string]any{
			"requested_capabilities": []string{"delete"},
			"tool":                   "delete",
			"context": map[string]any{
				"writes_files": true,
				"targets":      map[string]any{"paths": []string{"/tmp/x"}},
			},
		})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %v", resp.StatusCode, body)
	}
	if body["effect"] != "deny" {
		t.Errorf("effect = %v, want deny", body["effect"])
	}

	executionID, _ := body["execution_id"].(string)
	resp, poll := s.do(t, http.MethodGet, "/api/execution/"+executionID,
		map[string]string{"X-Adapter-Token": tok}, nil)
	if resp.StatusCode != http.StatusOK || poll["effect"] != "deny" {
		t.Errorf("poll status=%d effect=%v", resp.StatusCode, poll["effect"])
	}
}

func TestApprovalResolveOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.register(t)

	hold := &policy.Policy{
		PolicyID:   "openclaw-require-approval-exec",
		Scope:      policy.Scope{TenantID: "local"},
		Subject:    policy.Subject{Type: policy.SubjectTool, Name: "exec"},
		Effect:     policy.Effect{Decision: policy.DecisionRequireApproval},
		Precedence: 20,
		Enabled:    true,
	}
	if err := s.polStore.Upsert(t.Context(), hold); err != nil {
		t.Fatalf("seed policy: %v", err)
	}

	_, body := s.do(t, http.MethodPost, "/api/execution/request",
		map[string]string{"X-Adapter-Token": tok},
		map[string]any{
			"requested_capabilities": []string{"exec"},
			"tool":                   "exec",
			"context":                map[string]any{"exec": map[string]any{"argv0": "rm"}},
		})
	if body["effect"] != "require_approval" {
		t.Fatalf("effect = %v, want require_approval", body["effect"])
	}
	decisionID, _ := body["decision_id"].(string)

	// Operator auth is enforced on the resolve endpoint.
	resp, _ := s.do(t, http.MethodPost, fmt.Sprintf("/api/decisions/%s/resolve", decisionID), nil,
		map[string]any{"action": "approve", "justification": "reviewed, fine for this run"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resolve without ops key: status = %d", resp.StatusCode)
	}

	resp, resolved := s.do(t, http.MethodPost, fmt.Sprintf("/api/decisions/%s/resolve", decisionID),
		map[string]string{"X-Ops-Api-Key": "ops-key"},
		map[string]any{"action": "approve", "justification": "reviewed, fine for this run"})
	if resp.StatusCode != http.StatusOK || resolved["effect"] != "allow" {
		t.Fatalf("resolve: status=%d effect=%v", resp.StatusCode, resolved["effect"])
	}

	executionID, _ := body["execution_id"].(string)
	_, poll := s.do(t, http.MethodGet, "/api/execution/"+executionID,
		map[string]string{"X-Adapter-Token": tok}, nil)
	if poll["effect"] != "allow" || poll["approval_type"] != "local" {
		t.Errorf("poll after resolve: %v", poll)
	}
}

func TestIngestDedupOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.register(t)

	env := map[string]any{
		"execution_id": "0190f5b2-0000-7000-8000-00000000000b",
		"steps":        []map[string]any{{"index": 0, "kind": "tool_call"}},
	}
	resp, body := s.do(t, http.MethodPost, "/api/ingest/trace",
		map[string]string{"X-Adapter-Token": tok}, env)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("first ingest: status=%d body=%v", resp.StatusCode, body)
	}
	resp, body = s.do(t, http.MethodPost, "/api/ingest/trace",
		map[string]string{"X-Adapter-Token": tok}, env)
	if resp.StatusCode != http.StatusOK || body["status"] != "duplicate" {
		t.Fatalf("second ingest: status=%d body=%v", resp.StatusCode, body)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/ingest/bogus",
		map[string]string{"X-Adapter-Token": tok}, env)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown kind status = %d, want 404", resp.StatusCode)
	}
}

func TestWizardAckOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	doc := map[string]any{
		"policy_id": "openclaw-allow-reads",
		"subject":   map[string]any{"type": "tool", "name": "read"},
		"effect":    map[string]any{"decision": "allow"},
		"enabled":   true,
	}
	resp, body := s.do(t, http.MethodPost, "/ops/api/policies",
		map[string]string{"X-Ops-Api-Key": "ops-key"}, doc)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "wizard_allow_ack_required" {
		t.Fatalf("status=%d code=%v, want 400/wizard_allow_ack_required", resp.StatusCode, body["code"])
	}

	doc["_wizard_meta"] = map[string]any{"wizard_acknowledged_allow": true}
	resp, body = s.do(t, http.MethodPost, "/ops/api/policies",
		map[string]string{"X-Ops-Api-Key": "ops-key"}, doc)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d body %v", resp.StatusCode, body)
	}
	if body["summary_hash_after"] == "" {
		t.Error("missing summary hash")
	}
}

func TestMeAndHealth(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodGet, "/ops/api/me",
		map[string]string{"X-Ops-Api-Key": "ops-key"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	perms, _ := body["permissions"].([]any)
	found := false
	for _, p := range perms {
		if p == "policy:manage" {
			found = true
		}
	}
	if !found {
		t.Errorf("permissions %v missing policy:manage", perms)
	}

	resp, body = s.do(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health status=%d body=%v", resp.StatusCode, body)
	}
}

func TestDevModeOpsAuthDisabled(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.OpsLocalAPIKey = ""
	})
	resp, _ := s.do(t, http.MethodGet, "/ops/api/me", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("dev mode me status = %d, want 200", resp.StatusCode)
	}
}
