// Package request contains the execution request envelope adapters submit
// before dispatching a side-effecting tool invocation.
package request

// Targets lists the concrete filesystem paths and network hosts a tool
// invocation will touch.
type Targets struct {
	Paths []string `json:"paths,omitempty"`
	Hosts []string `json:"hosts,omitempty"`
}

// Exec describes the command for exec-family tools.
type Exec struct {
	Argv0 string   `json:"argv0,omitempty"`
	Argv  []string `json:"argv,omitempty"`
	Cwd   string   `json:"cwd,omitempty"`
}

// SideEffects summarizes what the invocation could plausibly do.
type SideEffects struct {
	WritesPossible  bool `json:"writes_possible"`
	NetworkPossible bool `json:"network_possible"`
}

// Context is the derived invocation context the shim computes from raw tool
// arguments. Policies condition on these fields.
type Context struct {
	ExternalNetwork    bool        `json:"external_network"`
	WritesFiles        bool        `json:"writes_files"`
	ElevatedPrivileges bool        `json:"elevated_privileges"`
	PackageManager     string      `json:"package_manager,omitempty"`
	Targets            Targets     `json:"targets"`
	Exec               *Exec       `json:"exec,omitempty"`
	SideEffects        SideEffects `json:"side_effects"`
}

// Provenance records where the invocation originated.
type Provenance struct {
	Source    string `json:"source,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

// ExecutionRequest is one side-effect request from an adapter. It is
// ephemeral: input to the decision engine, snapshotted onto the decision row.
type ExecutionRequest struct {
	ExecutionID           string      `json:"execution_id" validate:"required"`
	AdapterID             string      `json:"adapter_id" validate:"required"`
	TenantID              string      `json:"tenant_id" validate:"required"`
	WorkspaceID           string      `json:"workspace_id,omitempty"`
	RequestedCapabilities []string    `json:"requested_capabilities,omitempty"`
	Tool                  string      `json:"tool,omitempty"`
	ToolGroup             string      `json:"tool_group,omitempty"`
	Skill                 string      `json:"skill,omitempty"`
	Intent                string      `json:"intent,omitempty"`
	Context               Context     `json:"context"`
	Provenance            *Provenance `json:"provenance,omitempty"`
}

// Field returns the value of a dotted field path over the request, for
// condition evaluation. The second return reports whether the field is
// present. A missing field matches no positive operator.
func (r *ExecutionRequest) Field(path string) (any, bool) {
	switch path {
	case "tool":
		return present(r.Tool)
	case "tool_group":
		return present(r.ToolGroup)
	case "skill":
		return present(r.Skill)
	case "intent":
		return present(r.Intent)
	case "adapter_id":
		return present(r.AdapterID)
	case "context.external_network":
		return r.Context.ExternalNetwork, true
	case "context.writes_files":
		return r.Context.WritesFiles, true
	case "context.elevated_privileges":
		return r.Context.ElevatedPrivileges, true
	case "context.package_manager":
		return present(r.Context.PackageManager)
	case "context.targets.paths":
		return presentList(r.Context.Targets.Paths)
	case "context.targets.hosts":
		return presentList(r.Context.Targets.Hosts)
	case "context.exec.argv0":
		if r.Context.Exec == nil {
			return nil, false
		}
		return present(r.Context.Exec.Argv0)
	case "context.exec.cwd":
		if r.Context.Exec == nil {
			return nil, false
		}
		return present(r.Context.Exec.Cwd)
	case "context.side_effects.writes_possible":
		return r.Context.SideEffects.WritesPossible, true
	case "context.side_effects.network_possible":
		return r.Context.SideEffects.NetworkPossible, true
	case "provenance.source":
		if r.Provenance == nil {
			return nil, false
		}
		return present(r.Provenance.Source)
	default:
		return nil, false
	}
}

func present(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

func presentList(ss []string) (any, bool) {
	if len(ss) == 0 {
		return nil, false
	}
	return ss, true
}
