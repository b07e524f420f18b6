package shim

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/openclaw/clasper/internal/domain/request"
)

// Invocation is one raw tool call as the host agent sees it.
type Invocation struct {
	// Tool is the raw tool name before alias normalization.
	Tool string
	// Args are the raw tool arguments.
	Args map[string]any
	// Session carries the invocation context identifiers used for the
	// reuse fingerprint (sessionKey, sessionId, agentId, threadId).
	Session map[string]string
	// Capabilities requested for this invocation.
	Capabilities []string
	// Skill and Intent are optional annotations passed through.
	Skill  string
	Intent string
}

// toolAliases rewrites tool names onto the canonical set before any
// downstream use.
var toolAliases = map[string]string{
	"read_file":    "read",
	"write_file":   "write",
	"delete_file":  "delete",
	"edit_file":    "edit",
	"move_file":    "move",
	"copy_file":    "copy",
	"http_request": "web_search",
	"run_command":  "exec",
	"shell":        "exec",
}

// NormalizeTool applies the alias table.
func NormalizeTool(name string) string {
	if canonical, ok := toolAliases[name]; ok {
		return canonical
	}
	return name
}

var (
	packageManagers = map[string]bool{
		"npm": true, "pnpm": true, "yarn": true, "pip": true, "pip3": true,
		"apt": true, "apt-get": true, "brew": true, "cargo": true, "gem": true,
	}
	scriptRuntimes = map[string]bool{
		"node": true, "python": true, "python3": true, "ruby": true,
		"bash": true, "sh": true, "zsh": true, "deno": true, "bun": true,
	}
	networkCLIs = map[string]bool{
		"curl": true, "wget": true, "ssh": true, "scp": true, "nc": true,
	}
	shellFS = map[string]bool{
		"rm": true, "cp": true, "mv": true, "mkdir": true, "touch": true,
		"ls": true, "cat": true, "chmod": true, "chown": true, "ln": true,
	}
	writeFamily = map[string]bool{
		"write": true, "delete": true, "edit": true, "move": true, "copy": true,
	}
)

// CommandClass maps a shell argv0 onto a coarse bucket for fingerprinting.
func CommandClass(argv0 string) string {
	if argv0 == "" {
		return "none"
	}
	base := filepath.Base(argv0)
	switch {
	case packageManagers[base]:
		return "package_manager"
	case scriptRuntimes[base]:
		return "script_runtime"
	case base == "git":
		return "git"
	case networkCLIs[base]:
		return "network_cli"
	case shellFS[base]:
		return "shell_fs"
	default:
		return base
	}
}

// BuildRequest derives the execution request envelope from a raw invocation:
// tool normalization, target extraction, exec tokenization, and the derived
// side-effect flags.
func BuildRequest(adapterID string, inv *Invocation) *request.ExecutionRequest {
	tool := NormalizeTool(inv.Tool)
	req := &request.ExecutionRequest{
		AdapterID:             adapterID,
		RequestedCapabilities: inv.Capabilities,
		Tool:                  tool,
		Skill:                 inv.Skill,
		Intent:                inv.Intent,
	}

	var paths []string
	for _, key := range []string{"path", "file", "cwd"} {
		if s, ok := stringArg(inv.Args, key); ok && s != "" {
			if abs, err := filepath.Abs(s); err == nil {
				paths = append(paths, abs)
			} else {
				paths = append(paths, s)
			}
		}
	}
	req.Context.Targets.Paths = paths

	if raw, ok := stringArg(inv.Args, "url"); ok && raw != "" {
		req.Context.ExternalNetwork = true
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			req.Context.Targets.Hosts = []string{strings.ToLower(u.Hostname())}
		}
	}

	if cmd, ok := stringArg(inv.Args, "command"); ok && cmd != "" {
		argv := strings.Fields(cmd)
		exec := &request.Exec{Argv: argv}
		if len(argv) > 0 {
			exec.Argv0 = argv[0]
		}
		if cwd, ok := stringArg(inv.Args, "cwd"); ok {
			exec.Cwd = cwd
		}
		req.Context.Exec = exec
		for _, tok := range argv {
			if tok == "sudo" || tok == "--privileged" {
				req.Context.ElevatedPrivileges = true
			}
			if req.Context.PackageManager == "" && packageManagers[tok] {
				req.Context.PackageManager = tok
			}
			if networkCLIs[tok] {
				req.Context.ExternalNetwork = true
			}
		}
		req.ToolGroup = "exec"
	}

	if writeFamily[tool] {
		req.Context.WritesFiles = true
	}
	req.Context.SideEffects.WritesPossible = req.Context.WritesFiles || tool == "exec"
	req.Context.SideEffects.NetworkPossible = req.Context.ExternalNetwork

	req.Provenance = &request.Provenance{
		Source:    "shim",
		SessionID: sessionKey(inv.Session),
		AgentID:   inv.Session["agentId"],
	}
	return req
}

// sessionKey picks the reuse session identifier, most stable key first.
// Per-call ids are deliberately never used.
func sessionKey(session map[string]string) string {
	for _, key := range []string{"sessionKey", "sessionId", "agentId", "threadId"} {
		if v := session[key]; v != "" {
			return v
		}
	}
	return ""
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
