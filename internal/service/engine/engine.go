// Package engine implements policy evaluation: a pure function from an
// execution request, the scoped policy set, and the adapter record to a
// decision with an ordered trace. The engine performs no I/O.
package engine

import (
	"sort"
	"time"

	"github.com/openclaw/clasper/internal/domain/adapter"
	"github.com/openclaw/clasper/internal/domain/decision"
	"github.com/openclaw/clasper/internal/domain/policy"
	"github.com/openclaw/clasper/internal/domain/request"
)

// CELEvaluator evaluates a policy's condition_cel expression against a
// request. A nil evaluator disables condition_cel.
type CELEvaluator interface {
	EvalExpression(expr string, req *request.ExecutionRequest) (bool, error)
}

// Options tune evaluation behavior. Zero values fall back to the defaults
// used when a matched allow policy does not pin its own scope.
type Options struct {
	// ApprovalMode is "simulate" or "enforce". In simulate mode a
	// require_approval outcome is upgraded to allow and flagged.
	ApprovalMode string
	// OperatorsEnabled gates the advanced condition operators and
	// condition_cel.
	OperatorsEnabled bool
	// WorkspaceRoot substitutes {{workspace.root}} in condition literals.
	WorkspaceRoot string
	// ScopeTTL bounds granted scope lifetime. Default 1h.
	ScopeTTL time.Duration
	// MaxSteps and MaxCost are the granted scope defaults.
	MaxSteps int
	MaxCost  float64
	// CEL evaluates condition_cel expressions when operators are enabled.
	CEL CELEvaluator
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Result is the evaluation outcome before persistence.
type Result struct {
	Effect            decision.Effect
	Status            decision.Status
	GrantedScope      *decision.GrantedScope
	MatchedPolicies   []string
	FallbackHit       bool
	Trace             []decision.TraceEntry
	BlockedReason     string
	RequiredRole      string
	ApprovalMode      string
	ApprovalSource    string
	AutoAllowedInCore bool
}

// Evaluate runs the request through the policy set. Policies are considered
// in (precedence desc, policy_id asc) order; each produces exactly one trace
// entry. Matches tie-break by decision class, deny strongest. With no match
// and no fallback installed the default is allow.
func Evaluate(req *request.ExecutionRequest, policies []policy.Policy, ad *adapter.Adapter, opts Options) *Result {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	mode := opts.ApprovalMode
	if mode == "" {
		mode = "enforce"
	}

	ordered := make([]policy.Policy, len(policies))
	copy(ordered, policies)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Precedence != ordered[j].Precedence {
			return ordered[i].Precedence > ordered[j].Precedence
		}
		return ordered[i].PolicyID < ordered[j].PolicyID
	})

	env := policy.Env{
		Field:    req.Field,
		Advanced: opts.OperatorsEnabled,
	}
	vars := map[string]string{"workspace.root": opts.WorkspaceRoot}

	res := &Result{ApprovalMode: mode}
	var matched []policy.Policy
	for _, p := range ordered {
		entry := decision.TraceEntry{PolicyID: p.PolicyID, Result: decision.TraceSkipped}
		if p.Enabled && p.InScope(req.TenantID, req.WorkspaceID) && subjectMatches(&p, req) && conditionsMatch(&p, req, env, vars, opts) {
			entry.Result = decision.TraceMatched
			entry.Decision = string(p.Effect.Decision)
			entry.Explanation = p.Explanation
			matched = append(matched, p)
			res.MatchedPolicies = append(res.MatchedPolicies, p.PolicyID)
		}
		res.Trace = append(res.Trace, entry)
	}

	winner, effect := pickWinner(matched)
	res.FallbackHit = fallbackOnly(matched)

	switch effect {
	case policy.DecisionDeny:
		res.Effect = decision.EffectDeny
		res.BlockedReason = denyReason(winner)
	case policy.DecisionRequireApproval:
		if mode == "simulate" {
			res.Effect = decision.EffectAllow
			res.ApprovalSource = "config_override"
			res.AutoAllowedInCore = true
		} else {
			res.Effect = decision.EffectRequireApproval
			if winner != nil {
				res.RequiredRole = winner.Effect.RequiredRole
				res.BlockedReason = winner.Explanation
			}
		}
	default:
		res.Effect = decision.EffectAllow
	}

	if res.Effect == decision.EffectAllow {
		res.GrantedScope = grantScope(req, ad, winner, opts, now())
	}
	res.Status = decision.StatusForEffect(res.Effect)
	return res
}

// subjectMatches checks the policy subject against the request. An empty
// subject name matches any request carrying the subject field.
func subjectMatches(p *policy.Policy, req *request.ExecutionRequest) bool {
	switch p.Subject.Type {
	case policy.SubjectTool:
		if req.Tool == "" {
			return false
		}
		return p.Subject.Name == "" || p.Subject.Name == req.Tool
	case policy.SubjectCapability:
		if len(req.RequestedCapabilities) == 0 {
			return false
		}
		if p.Subject.Name == "" {
			return true
		}
		for _, c := range req.RequestedCapabilities {
			if c == p.Subject.Name {
				return true
			}
		}
		return false
	case policy.SubjectSkill:
		if req.Skill == "" {
			return false
		}
		return p.Subject.Name == "" || p.Subject.Name == req.Skill
	case policy.SubjectAdapter:
		return p.Subject.Name == "" || p.Subject.Name == req.AdapterID
	default:
		return false
	}
}

func conditionsMatch(p *policy.Policy, req *request.ExecutionRequest, env policy.Env, vars map[string]string, opts Options) bool {
	conds := policy.SubstituteTemplates(p.Conditions, vars)
	cond, err := policy.ParseConditions(conds)
	if err != nil {
		// A malformed condition never matches; the policy shows as
		// skipped in the trace.
		return false
	}
	if !cond.Eval(env) {
		return false
	}
	if p.ConditionCEL != "" {
		if !opts.OperatorsEnabled || opts.CEL == nil {
			return false
		}
		ok, err := opts.CEL.EvalExpression(p.ConditionCEL, req)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// pickWinner applies the decision-class total order across matched policies.
// Within a class the earliest match in evaluation order wins, which is the
// highest precedence.
func pickWinner(matched []policy.Policy) (*policy.Policy, policy.Decision) {
	var winner *policy.Policy
	for i := range matched {
		p := &matched[i]
		if winner == nil || p.Effect.Decision.Rank() > winner.Effect.Decision.Rank() {
			winner = p
		}
	}
	if winner == nil {
		return nil, policy.DecisionAllow
	}
	return winner, winner.Effect.Decision
}

func fallbackOnly(matched []policy.Policy) bool {
	if len(matched) == 0 {
		return false
	}
	for _, p := range matched {
		if !p.IsFallback {
			return false
		}
	}
	return true
}

func denyReason(winner *policy.Policy) string {
	if winner == nil {
		return ""
	}
	if winner.Explanation != "" {
		return winner.Explanation
	}
	return "denied by policy " + winner.PolicyID
}

// grantScope builds the allow scope: requested capabilities intersected with
// the adapter's declared set, step and cost ceilings from the winning policy
// or the defaults, and an expiry.
func grantScope(req *request.ExecutionRequest, ad *adapter.Adapter, winner *policy.Policy, opts Options, now time.Time) *decision.GrantedScope {
	ttl := opts.ScopeTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	scope := &decision.GrantedScope{
		MaxSteps:  opts.MaxSteps,
		MaxCost:   opts.MaxCost,
		ExpiresAt: now.UTC().Add(ttl),
	}
	if scope.MaxSteps <= 0 {
		scope.MaxSteps = 50
	}
	if scope.MaxCost <= 0 {
		scope.MaxCost = 5.0
	}

	caps := req.RequestedCapabilities
	if winner != nil && winner.Effect.GrantedScope != nil {
		gs := winner.Effect.GrantedScope
		if len(gs.Capabilities) > 0 {
			caps = gs.Capabilities
		}
		if gs.MaxSteps > 0 {
			scope.MaxSteps = gs.MaxSteps
		}
		if gs.MaxCost > 0 {
			scope.MaxCost = gs.MaxCost
		}
	}
	// No adapter record means no declared capability set to intersect
	// with, so nothing is granted.
	scope.Capabilities = []string{}
	if ad != nil {
		for _, c := range caps {
			if ad.HasCapability(c) {
				scope.Capabilities = append(scope.Capabilities, c)
			}
		}
	}
	return scope
}
