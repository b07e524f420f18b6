package cel

import (
	"strings"
	"testing"

	"github.com/openclaw/clasper/internal/domain/request"
)

func testRequest() *request.ExecutionRequest {
	return &request.ExecutionRequest{
		ExecutionID:           "0190f5b2-0000-7000-8000-000000000001",
		AdapterID:             "openclaw-shell",
		TenantID:              "local",
		RequestedCapabilities: []string{"fs.write", "net.fetch"},
		Tool:                  "delete_file",
		ToolGroup:             "filesystem",
		Context: request.Context{
			ExternalNetwork: true,
			WritesFiles:     true,
			Targets: request.Targets{
				Paths: []string{"/ws/src/main.go"},
				Hosts: []string{"registry.npmjs.org"},
			},
			Exec: &request.Exec{Argv0: "rm", Argv: []string{"rm", "-rf", "/ws/tmp"}},
		},
		Provenance: &request.Provenance{Source: "session", SessionID: "s-1"},
	}
}

func TestEvaluatorExpressions(t *testing.T) {
	t.Parallel()

	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"tool equality", `tool == "delete_file"`, true},
		{"tool group mismatch", `tool_group == "network"`, false},
		{"capability membership", `"fs.write" in capabilities`, true},
		{"context flag", `context.external_network && context.writes_files`, true},
		{"glob on tool", `glob("delete_*", tool)`, true},
		{"path_under match", `path_under("/ws/src/main.go", "/ws")`, true},
		{"path_under traversal", `path_under("/ws/../etc/passwd", "/ws")`, false},
		{"paths exists macro", `context.paths.exists(p, path_under(p, "/ws"))`, true},
		{"provenance source", `provenance.source == "session"`, true},
		{"argv0", `context.argv0 == "rm"`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := eval.EvalExpression(tc.expr, testRequest())
			if err != nil {
				t.Fatalf("EvalExpression(%q): %v", tc.expr, err)
			}
			if got != tc.want {
				t.Errorf("EvalExpression(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvaluatorWithoutExecOrProvenance(t *testing.T) {
	t.Parallel()

	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	req := testRequest()
	req.Context.Exec = nil
	req.Provenance = nil

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"tool still matches", `tool == "delete_file"`, true},
		{"argv0 empty", `context.argv0 == ""`, true},
		{"argv empty", `context.argv.size() == 0`, true},
		{"provenance source empty", `provenance.source == ""`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := eval.EvalExpression(tc.expr, req)
			if err != nil {
				t.Fatalf("EvalExpression(%q): %v", tc.expr, err)
			}
			if got != tc.want {
				t.Errorf("EvalExpression(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvaluatorNonBooleanResult(t *testing.T) {
	t.Parallel()

	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	if _, err := eval.EvalExpression(`tool`, testRequest()); err == nil {
		t.Error("expected error for non-boolean expression")
	}
}

func TestValidateExpression(t *testing.T) {
	t.Parallel()

	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"valid", `tool == "read"`, false},
		{"empty", ``, true},
		{"too long", `tool == "` + strings.Repeat("a", 2048) + `"`, true},
		{"too deep", strings.Repeat("(", 60) + "true" + strings.Repeat(")", 60), true},
		{"unknown variable", `no_such_var == 1`, true},
		{"syntax error", `tool ==`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := eval.ValidateExpression(tc.expr)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateExpression(%q) err = %v, wantErr %v", tc.expr, err, tc.wantErr)
			}
		})
	}
}
