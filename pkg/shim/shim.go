package shim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/clasper/internal/domain/request"
)

// ExecuteFunc runs the underlying tool once the control plane allows it.
type ExecuteFunc func(ctx context.Context) (any, error)

// inflightEntry tracks a pending execution for same-request reuse.
type inflightEntry struct {
	executionID string
	expiresAt   time.Time
}

// Shim guards tool dispatch. It is safe for concurrent use; each invocation
// is its own governance transaction.
type Shim struct {
	opts Options

	mu       sync.Mutex
	inflight map[string]inflightEntry
}

// New validates the options and builds a shim. Missing configuration is an
// error, never a silent bypass.
func New(opts Options) (*Shim, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.withDefaults()
	return &Shim{
		opts:     opts,
		inflight: make(map[string]inflightEntry),
	}, nil
}

// decisionResponse is the subset of the decision document the shim acts on.
type decisionResponse struct {
	ExecutionID     string   `json:"execution_id"`
	DecisionID      string   `json:"decision_id"`
	Effect          string   `json:"effect"`
	Status          string   `json:"status"`
	BlockedReason   string   `json:"blocked_reason"`
	MatchedPolicies []string `json:"matched_policies"`
	Allowed         *bool    `json:"allowed,omitempty"`
}

// pollResponse is the approval poll payload.
type pollResponse struct {
	ExecutionID  string `json:"execution_id"`
	Effect       string `json:"effect"`
	DecisionID   string `json:"decision_id"`
	ApprovalType string `json:"approval_type"`
}

// Guard runs one governed tool invocation: request a decision, honor it, and
// execute only on allow. Every failure to obtain a usable decision is
// fail-closed.
func (s *Shim) Guard(ctx context.Context, inv *Invocation, execute ExecuteFunc) (any, error) {
	req := BuildRequest(s.opts.AdapterID, inv)
	fp := Fingerprint(s.opts.AdapterID, req, inv.Session)

	executionID, reused := s.lookupInflight(fp)
	if executionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, &UnreachableError{Op: "mint execution id", Err: err}
		}
		executionID = id.String()
	}
	req.ExecutionID = executionID

	resp, err := s.requestDecision(ctx, req)
	if err != nil {
		return nil, err
	}

	effect := resp.Effect
	if effect == "" && resp.Allowed != nil {
		if *resp.Allowed {
			effect = "allow"
		} else {
			effect = "deny"
		}
	}

	switch effect {
	case "deny":
		s.clearInflight(fp)
		s.emitAudit(ctx, executionID, "tool_execution_blocked", map[string]any{
			"tool":             req.Tool,
			"blocked_reason":   resp.BlockedReason,
			"matched_policies": resp.MatchedPolicies,
		})
		return nil, &PolicyDeniedError{
			ExecutionID:     executionID,
			BlockedReason:   resp.BlockedReason,
			MatchedPolicies: resp.MatchedPolicies,
		}

	case "require_approval", "pending":
		s.setInflight(fp, executionID)
		if reused {
			s.emitAudit(ctx, executionID, "approval_pending_reused", map[string]any{
				"tool": req.Tool,
			})
		}
		if err := s.waitForApproval(ctx, executionID, resp.DecisionID); err != nil {
			// Timeout keeps the fingerprint so retries keep blocking
			// on the same pending decision until it ages out.
			if _, timedOut := err.(*ApprovalTimeoutError); !timedOut {
				s.clearInflight(fp)
			}
			return nil, err
		}
		s.clearInflight(fp)
		return s.execute(ctx, req, execute)

	case "allow":
		s.clearInflight(fp)
		return s.execute(ctx, req, execute)

	default:
		s.clearInflight(fp)
		return nil, &UnknownEffectError{ExecutionID: executionID, Effect: effect}
	}
}

// execute runs the tool and reports completion telemetry. Telemetry failures
// never propagate; governance was already enforced.
func (s *Shim) execute(ctx context.Context, req *request.ExecutionRequest, fn ExecuteFunc) (any, error) {
	start := time.Now()
	result, err := fn(ctx)
	s.emitAudit(ctx, req.ExecutionID, "tool_execution_completed", map[string]any{
		"tool":        req.Tool,
		"duration_ms": time.Since(start).Milliseconds(),
		"failed":      err != nil,
	})
	return result, err
}

// waitForApproval polls the ledger until the decision turns terminal or the
// deadline elapses.
func (s *Shim) waitForApproval(ctx context.Context, executionID, decisionID string) error {
	deadline := time.Now().Add(s.opts.ApprovalDeadline)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for iteration := 1; ; iteration++ {
		if time.Now().After(deadline) {
			return &ApprovalTimeoutError{ExecutionID: executionID, DecisionID: decisionID}
		}
		select {
		case <-ctx.Done():
			return &UnreachableError{Op: "approval poll", Err: ctx.Err()}
		case <-ticker.C:
		}

		var poll pollResponse
		if err := s.getJSON(ctx, "/api/execution/"+executionID, &poll); err != nil {
			return err
		}
		switch poll.Effect {
		case "allow":
			return nil
		case "deny":
			return &PolicyDeniedError{ExecutionID: executionID, BlockedReason: "denied by operator"}
		}
		if iteration%5 == 0 {
			s.opts.Logger.Info("still waiting for approval",
				"execution_id", executionID,
				"iteration", iteration)
		}
	}
}

// ReportCost sends a cost sample for an executed invocation. Non-fatal.
func (s *Shim) ReportCost(ctx context.Context, executionID string, amount float64) {
	body := map[string]any{
		"execution_id": executionID,
		"adapter_id":   s.opts.AdapterID,
		"amount":       amount,
	}
	if err := s.postJSON(ctx, "/api/ingest/cost", body, nil); err != nil {
		s.opts.Logger.Warn("cost report failed", "execution_id", executionID, "error", err)
	}
}

// emitAudit ships one audit envelope through ingest. Non-fatal.
func (s *Shim) emitAudit(ctx context.Context, executionID, eventType string, data map[string]any) {
	body := map[string]any{
		"execution_id": executionID,
		"adapter_id":   s.opts.AdapterID,
		"event_type":   eventType,
		"data":         data,
	}
	if err := s.postJSON(ctx, "/api/ingest/audit", body, nil); err != nil {
		s.opts.Logger.Warn("audit emit failed",
			"execution_id", executionID,
			"event_type", eventType,
			"error", err)
	}
}

func (s *Shim) requestDecision(ctx context.Context, req *request.ExecutionRequest) (*decisionResponse, error) {
	var resp decisionResponse
	if err := s.postJSON(ctx, "/api/execution/request", req, &resp); err != nil {
		return nil, err
	}
	if resp.ExecutionID == "" {
		return nil, &UnreachableError{Op: "decision request", Err: fmt.Errorf("response missing execution_id")}
	}
	return &resp, nil
}

// postJSON sends a POST, retrying only on 5xx responses. Network errors on
// writes are not retried; the decision write may have landed.
func (s *Shim) postJSON(ctx context.Context, path string, body, into any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return &UnreachableError{Op: "POST " + path, Err: err}
	}
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := s.backoff(ctx, attempt); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+path, bytes.NewReader(raw))
		if err != nil {
			return &UnreachableError{Op: "POST " + path, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Adapter-Token", s.opts.Token)

		resp, err := s.opts.HTTPClient.Do(req)
		if err != nil {
			return &UnreachableError{Op: "POST " + path, Err: err}
		}
		done, err := s.consume(resp, path, into)
		if done {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// getJSON sends an idempotent GET, retrying on network errors and 5xx.
func (s *Shim) getJSON(ctx context.Context, path string, into any) error {
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := s.backoff(ctx, attempt); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.BaseURL+path, nil)
		if err != nil {
			return &UnreachableError{Op: "GET " + path, Err: err}
		}
		req.Header.Set("X-Adapter-Token", s.opts.Token)

		resp, err := s.opts.HTTPClient.Do(req)
		if err != nil {
			lastErr = &UnreachableError{Op: "GET " + path, Err: err}
			continue
		}
		done, err := s.consume(resp, path, into)
		if done {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// consume drains one response. done=false means the caller may retry.
func (s *Shim) consume(resp *http.Response, path string, into any) (done bool, err error) {
	defer resp.Body.Close()
	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return true, &UnreachableError{Op: path, Err: readErr}
	}
	if resp.StatusCode >= 500 {
		return false, &UnreachableError{Op: path, Err: fmt.Errorf("server returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		return true, &UnreachableError{Op: path, Err: fmt.Errorf("server returned %d: %s", resp.StatusCode, raw)}
	}
	if into == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return true, &UnreachableError{Op: path, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return true, nil
}

func (s *Shim) backoff(ctx context.Context, attempt int) error {
	delay := retryBackoffMin << (attempt - 1)
	if delay > retryBackoffMax {
		delay = retryBackoffMax
	}
	select {
	case <-ctx.Done():
		return &UnreachableError{Op: "retry backoff", Err: ctx.Err()}
	case <-time.After(delay):
		return nil
	}
}

// lookupInflight returns a non-expired reuse entry and sweeps stale ones.
func (s *Shim) lookupInflight(fp string) (executionID string, reused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for key, entry := range s.inflight {
		if now.After(entry.expiresAt) {
			delete(s.inflight, key)
		}
	}
	if entry, ok := s.inflight[fp]; ok {
		return entry.executionID, true
	}
	return "", false
}

func (s *Shim) setInflight(fp, executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[fp] = inflightEntry{
		executionID: executionID,
		expiresAt:   time.Now().Add(s.opts.ReuseWindow),
	}
}

func (s *Shim) clearInflight(fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, fp)
}
