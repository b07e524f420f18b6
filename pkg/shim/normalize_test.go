package shim

import (
	"path/filepath"
	"testing"
)

func TestNormalizeTool(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"read_file", "read"},
		{"write_file", "write"},
		{"shell", "exec"},
		{"run_command", "exec"},
		{"http_request", "web_search"},
		{"exec", "exec"},
		{"custom_tool", "custom_tool"},
	}
	for _, tc := range cases {
		if got := NormalizeTool(tc.in); got != tc.want {
			t.Errorf("NormalizeTool(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCommandClass(t *testing.T) {
	t.Parallel()
	cases := []struct {
		argv0, want string
	}{
		{"", "none"},
		{"npm", "package_manager"},
		{"/usr/bin/pip3", "package_manager"},
		{"python3", "script_runtime"},
		{"git", "git"},
		{"curl", "network_cli"},
		{"rm", "shell_fs"},
		{"terraform", "terraform"},
	}
	for _, tc := range cases {
		if got := CommandClass(tc.argv0); got != tc.want {
			t.Errorf("CommandClass(%q) = %q, want %q", tc.argv0, got, tc.want)
		}
	}
}

func TestBuildRequestFileWrite(t *testing.T) {
	t.Parallel()
	req := BuildRequest("adapter-1", &Invocation{
		Tool: "write_file",
		Args: map[string]any{"path": "/ws/out.txt"},
	})
	if req.Tool != "write" {
		t.Fatalf("tool = %q", req.Tool)
	}
	if !req.Context.WritesFiles || !req.Context.SideEffects.WritesPossible {
		t.Fatalf("write flags not derived: %+v", req.Context)
	}
	want, _ := filepath.Abs("/ws/out.txt")
	if len(req.Context.Targets.Paths) != 1 || req.Context.Targets.Paths[0] != want {
		t.Fatalf("paths = %v", req.Context.Targets.Paths)
	}
	if req.Provenance == nil || req.Provenance.Source != "shim" {
		t.Fatalf("provenance = %+v", req.Provenance)
	}
}

func TestBuildRequestURL(t *testing.T) {
	t.Parallel()
	req := BuildRequest("adapter-1", &Invocation{
		Tool: "http_request",
		Args: map[string]any{"url": "https://API.Example.COM/v1/data"},
	})
	if !req.Context.ExternalNetwork || !req.Context.SideEffects.NetworkPossible {
		t.Fatalf("network flags not derived: %+v", req.Context)
	}
	if len(req.Context.Targets.Hosts) != 1 || req.Context.Targets.Hosts[0] != "api.example.com" {
		t.Fatalf("hosts = %v", req.Context.Targets.Hosts)
	}
}

func TestBuildRequestExec(t *testing.T) {
	t.Parallel()
	req := BuildRequest("adapter-1", &Invocation{
		Tool: "run_command",
		Args: map[string]any{"command": "sudo npm install leftpad", "cwd": "/ws"},
	})
	if req.Tool != "exec" || req.ToolGroup != "exec" {
		t.Fatalf("tool = %q group = %q", req.Tool, req.ToolGroup)
	}
	if req.Context.Exec == nil {
		t.Fatal("exec context missing")
	}
	if req.Context.Exec.Argv0 != "sudo" {
		t.Fatalf("argv0 = %q", req.Context.Exec.Argv0)
	}
	if !req.Context.ElevatedPrivileges {
		t.Fatal("sudo not flagged")
	}
	if req.Context.PackageManager != "npm" {
		t.Fatalf("package_manager = %q", req.Context.PackageManager)
	}
	if !req.Context.SideEffects.WritesPossible {
		t.Fatal("exec must imply writes_possible")
	}
}

func TestBuildRequestNetworkCLI(t *testing.T) {
	t.Parallel()
	req := BuildRequest("adapter-1", &Invocation{
		Tool: "shell",
		Args: map[string]any{"command": "curl https://example.com"},
	})
	if !req.Context.ExternalNetwork {
		t.Fatal("curl not flagged as external network")
	}
}

func TestSessionKeyPriority(t *testing.T) {
	t.Parallel()
	cases := []struct {
		session map[string]string
		want    string
	}{
		{map[string]string{"sessionKey": "a", "sessionId": "b"}, "a"},
		{map[string]string{"sessionId": "b", "agentId": "c"}, "b"},
		{map[string]string{"threadId": "d"}, "d"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := sessionKey(tc.session); got != tc.want {
			t.Errorf("sessionKey(%v) = %q, want %q", tc.session, got, tc.want)
		}
	}
}

func TestFingerprintStability(t *testing.T) {
	t.Parallel()
	session := map[string]string{"sessionKey": "s1"}
	a := BuildRequest("ad", &Invocation{Tool: "read_file", Args: map[string]any{"path": "/A.txt"}})
	b := BuildRequest("ad", &Invocation{Tool: "read_file", Args: map[string]any{"path": "/a.txt"}})
	if Fingerprint("ad", a, session) != Fingerprint("ad", b, session) {
		t.Fatal("fingerprint must be case-insensitive over targets")
	}

	c := BuildRequest("ad", &Invocation{Tool: "read_file", Args: map[string]any{"path": "/other.txt"}})
	if Fingerprint("ad", a, session) == Fingerprint("ad", c, session) {
		t.Fatal("different targets must not collide")
	}

	other := map[string]string{"sessionKey": "s2"}
	if Fingerprint("ad", a, session) == Fingerprint("ad", a, other) {
		t.Fatal("different sessions must not collide")
	}
}

func TestFingerprintCommandClassBuckets(t *testing.T) {
	t.Parallel()
	session := map[string]string{"sessionKey": "s1"}
	npm := BuildRequest("ad", &Invocation{Tool: "shell", Args: map[string]any{"command": "npm install left"}})
	pip := BuildRequest("ad", &Invocation{Tool: "shell", Args: map[string]any{"command": "pip install right"}})
	if Fingerprint("ad", npm, session) != Fingerprint("ad", pip, session) {
		t.Fatal("package manager invocations share a command class bucket")
	}

	gitReq := BuildRequest("ad", &Invocation{Tool: "shell", Args: map[string]any{"command": "git push"}})
	if Fingerprint("ad", npm, session) == Fingerprint("ad", gitReq, session) {
		t.Fatal("different command classes must not collide")
	}
}
