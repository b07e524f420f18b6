package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Condition is one node of the condition AST. Exactly one of the variant
// fields is set; Eval is total over any request field value.
type Condition interface {
	// Eval evaluates the condition against a field resolver. present is
	// false when the field is absent from the request.
	Eval(env Env) bool
}

// Env resolves request fields and template variables during evaluation.
type Env struct {
	// Field returns a request field value by dotted path.
	Field func(path string) (any, bool)
	// Advanced enables the all_under/any_under/exists operators.
	Advanced bool
}

// Equals matches when the field value equals the literal.
type Equals struct {
	Path  string
	Value any
}

// In matches when the field value is one of the literals.
type In struct {
	Path   string
	Values []any
}

// Prefix matches when the string field starts with the literal.
type Prefix struct {
	Path   string
	Prefix string
}

// AllUnder matches when every value of a string-list field is a path equal to
// or descending from one of the roots. Advanced operator.
type AllUnder struct {
	Path  string
	Roots []string
}

// AnyUnder matches when at least one value satisfies AllUnder's root check.
// Advanced operator.
type AnyUnder struct {
	Path  string
	Roots []string
}

// Exists matches on field presence (Want=true) or absence (Want=false).
// Advanced operator.
type Exists struct {
	Path string
	Want bool
}

// And matches when every child matches.
type And struct {
	Children []Condition
}

// Or matches when at least one child matches.
type Or struct {
	Children []Condition
}

func (c Equals) Eval(env Env) bool {
	v, ok := env.Field(c.Path)
	if !ok {
		return false
	}
	return literalEqual(v, c.Value)
}

func (c In) Eval(env Env) bool {
	v, ok := env.Field(c.Path)
	if !ok {
		return false
	}
	for _, want := range c.Values {
		if literalEqual(v, want) {
			return true
		}
	}
	return false
}

func (c Prefix) Eval(env Env) bool {
	v, ok := env.Field(c.Path)
	if !ok {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return strings.HasPrefix(s, c.Prefix)
}

func (c AllUnder) Eval(env Env) bool {
	if !env.Advanced {
		return false
	}
	values, ok := stringList(env, c.Path)
	if !ok || len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !underAny(v, c.Roots) {
			return false
		}
	}
	return true
}

func (c AnyUnder) Eval(env Env) bool {
	if !env.Advanced {
		return false
	}
	values, ok := stringList(env, c.Path)
	if !ok {
		return false
	}
	for _, v := range values {
		if underAny(v, c.Roots) {
			return true
		}
	}
	return false
}

func (c Exists) Eval(env Env) bool {
	if !env.Advanced {
		return false
	}
	_, ok := env.Field(c.Path)
	return ok == c.Want
}

func (c And) Eval(env Env) bool {
	for _, child := range c.Children {
		if !child.Eval(env) {
			return false
		}
	}
	return true
}

func (c Or) Eval(env Env) bool {
	for _, child := range c.Children {
		if child.Eval(env) {
			return true
		}
	}
	return false
}

// literalEqual compares a field value to a condition literal. Scalars compare
// directly; a wrongly-typed comparison is false, never an error.
func literalEqual(field, want any) bool {
	switch f := field.(type) {
	case string:
		w, ok := want.(string)
		return ok && f == w
	case bool:
		w, ok := want.(bool)
		return ok && f == w
	case int:
		return numEqual(float64(f), want)
	case int64:
		return numEqual(float64(f), want)
	case float64:
		return numEqual(f, want)
	default:
		return false
	}
}

func numEqual(f float64, want any) bool {
	switch w := want.(type) {
	case int:
		return f == float64(w)
	case int64:
		return f == float64(w)
	case float64:
		return f == w
	default:
		return false
	}
}

func stringList(env Env, path string) ([]string, bool) {
	v, ok := env.Field(path)
	if !ok {
		return nil, false
	}
	list, ok := v.([]string)
	if !ok {
		return nil, false
	}
	return list, true
}

// underAny reports whether the normalized path equals one of the roots or
// descends from it.
func underAny(path string, roots []string) bool {
	p := filepath.Clean(path)
	for _, root := range roots {
		r := filepath.Clean(root)
		if p == r || strings.HasPrefix(p, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ParseConditions converts a policy's condition map into an AST. Accepted
// forms per field path:
//
//	path: <literal>                    equality
//	path: {in: [v, ...]}               membership
//	path: {prefix: s}                  string prefix
//	path: {all_under: [root, ...]}     every list value under a root
//	path: {any_under: [root, ...]}     some list value under a root
//	path: {exists: bool}               presence check
//
// Template variables like {{workspace.root}} are substituted before this
// function is called (see SubstituteTemplates).
func ParseConditions(conditions map[string]any) (Condition, error) {
	if len(conditions) == 0 {
		return And{}, nil
	}
	// Sort paths for deterministic trace and error ordering.
	paths := make([]string, 0, len(conditions))
	for path := range conditions {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	children := make([]Condition, 0, len(conditions))
	for _, path := range paths {
		cond, err := parseOne(path, conditions[path])
		if err != nil {
			return nil, err
		}
		children = append(children, cond)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return And{Children: children}, nil
}

func parseOne(path string, expr any) (Condition, error) {
	m, ok := asMap(expr)
	if !ok {
		// Bare literal means equality.
		return Equals{Path: path, Value: expr}, nil
	}
	if len(m) != 1 {
		return nil, fmt.Errorf("condition %q: expected exactly one operator, got %d", path, len(m))
	}
	for op, arg := range m {
		switch op {
		case "eq":
			return Equals{Path: path, Value: arg}, nil
		case "in":
			values, ok := asList(arg)
			if !ok {
				return nil, fmt.Errorf("condition %q: in wants a list", path)
			}
			return In{Path: path, Values: values}, nil
		case "prefix":
			s, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("condition %q: prefix wants a string", path)
			}
			return Prefix{Path: path, Prefix: s}, nil
		case "all_under":
			roots, ok := asStringList(arg)
			if !ok {
				return nil, fmt.Errorf("condition %q: all_under wants a list of strings", path)
			}
			return AllUnder{Path: path, Roots: roots}, nil
		case "any_under":
			roots, ok := asStringList(arg)
			if !ok {
				return nil, fmt.Errorf("condition %q: any_under wants a list of strings", path)
			}
			return AnyUnder{Path: path, Roots: roots}, nil
		case "exists":
			b, ok := arg.(bool)
			if !ok {
				return nil, fmt.Errorf("condition %q: exists wants a bool", path)
			}
			return Exists{Path: path, Want: b}, nil
		default:
			return nil, fmt.Errorf("condition %q: unknown operator %q", path, op)
		}
	}
	return nil, fmt.Errorf("condition %q: empty operator map", path)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		// yaml.v3 can decode nested maps with interface keys.
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asList(v any) ([]any, bool) {
	list, ok := v.([]any)
	return list, ok
}

func asStringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// SubstituteTemplates replaces template variables in condition literals.
// Substitution happens once, before evaluation. Only string values are
// rewritten; the only supported variable today is {{workspace.root}}.
func SubstituteTemplates(conditions map[string]any, vars map[string]string) map[string]any {
	if len(conditions) == 0 {
		return conditions
	}
	out := make(map[string]any, len(conditions))
	for path, expr := range conditions {
		out[path] = substituteValue(expr, vars)
	}
	return out
}

func substituteValue(v any, vars map[string]string) any {
	switch val := v.(type) {
	case string:
		for name, repl := range vars {
			val = strings.ReplaceAll(val, "{{"+name+"}}", repl)
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, vars)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, vars).(string)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = substituteValue(item, vars)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(val))
		for k, item := range val {
			out[k] = substituteValue(item, vars)
		}
		return out
	default:
		return v
	}
}
