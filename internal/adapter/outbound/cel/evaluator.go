// Package cel provides the CEL evaluator behind the optional condition_cel
// policy field. It is only consulted when advanced policy operators are
// enabled.
package cel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/openclaw/clasper/internal/domain/request"
)

// maxExpressionLength caps CEL expression size.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 100_000

// maxNestingDepth caps parenthesis/bracket nesting.
const maxNestingDepth = 50

// evalTimeout bounds a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates condition_cel expressions.
type Evaluator struct {
	env *cel.Env
}

// NewRequestEnvironment builds a CEL environment exposing the execution
// request fields:
//   - tool, tool_group, skill, intent, adapter_id: strings
//   - capabilities: list of requested capability strings
//   - context: the request context as a map (paths, hosts, exec, flags)
//   - provenance: source/session/agent identifiers as a map
//   - glob(pattern, name) and path_under(path, root) helper functions
func NewRequestEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("tool", cel.StringType),
		cel.Variable("tool_group", cel.StringType),
		cel.Variable("skill", cel.StringType),
		cel.Variable("intent", cel.StringType),
		cel.Variable("adapter_id", cel.StringType),
		cel.Variable("capabilities", cel.ListType(cel.StringType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("provenance", cel.MapType(cel.StringType, cel.DynType)),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// path_under: true when the cleaned path equals the root or
		// descends from it. Usage: path_under("/ws/src/a.go", "/ws")
		cel.Function("path_under",
			cel.Overload("path_under_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pathVal, rootVal ref.Val) ref.Val {
					p := filepath.Clean(pathVal.Value().(string))
					r := filepath.Clean(rootVal.Value().(string))
					under := p == r || strings.HasPrefix(p, r+string(filepath.Separator))
					return types.Bool(under)
				}),
			),
		),
	)
}

// NewEvaluator creates an evaluator with the request environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRequestEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks an expression into a program with the
// runtime safety limits applied.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that an expression is syntactically valid and
// within the safety limits. Used by the policy admin surface before a policy
// with condition_cel is accepted.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}

// Evaluate runs a compiled program against an execution request. A non-bool
// result is an error, which callers treat as a non-match.
func (e *Evaluator) Evaluate(prg cel.Program, req *request.ExecutionRequest) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, buildActivation(req))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}

// EvalExpression compiles and evaluates in one call. The decision engine uses
// this for condition_cel since policies are few and re-read per decision.
func (e *Evaluator) EvalExpression(expr string, req *request.ExecutionRequest) (bool, error) {
	prg, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	return e.Evaluate(prg, req)
}

func buildActivation(req *request.ExecutionRequest) map[string]any {
	caps := req.RequestedCapabilities
	if caps == nil {
		caps = []string{}
	}
	// Exec and provenance are optional on the request; expressions see
	// empty values rather than absent keys.
	exec := req.Context.Exec
	if exec == nil {
		exec = &request.Exec{}
	}
	prov := req.Provenance
	if prov == nil {
		prov = &request.Provenance{}
	}
	return map[string]any{
		"tool":         req.Tool,
		"tool_group":   req.ToolGroup,
		"skill":        req.Skill,
		"intent":       req.Intent,
		"adapter_id":   req.AdapterID,
		"capabilities": caps,
		"context": map[string]any{
			"external_network":    req.Context.ExternalNetwork,
			"writes_files":        req.Context.WritesFiles,
			"elevated_privileges": req.Context.ElevatedPrivileges,
			"package_manager":     req.Context.PackageManager,
			"paths":               asAnyList(req.Context.Targets.Paths),
			"hosts":               asAnyList(req.Context.Targets.Hosts),
			"argv0":               exec.Argv0,
			"argv":                asAnyList(exec.Argv),
			"cwd":                 exec.Cwd,
			"writes_possible":     req.Context.SideEffects.WritesPossible,
			"network_possible":    req.Context.SideEffects.NetworkPossible,
		},
		"provenance": map[string]any{
			"source":     prov.Source,
			"session_id": prov.SessionID,
			"agent_id":   prov.AgentID,
		},
	}
}

func asAnyList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
