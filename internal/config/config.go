// Package config provides configuration types for the Clasper control plane.
//
// Clasper runs as a local, single-tenant instance: one tenant, one workspace,
// one operator. The configuration schema reflects that deliberately:
//
//   - NO multi-tenant identity or cross-operator RBAC
//   - NO external attestation services (all approvals are self-attested)
//   - NO cloud approval backends (approval_type "cloud" is a reserved wire value)
package config

import "time"

// Config is the top-level configuration for the Clasper control plane.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Tenant identifies the local tenant and workspace this instance serves.
	Tenant TenantConfig `yaml:"tenant" mapstructure:"tenant"`

	// Auth configures adapter token minting and operator authentication.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Policy configures the decision engine behavior.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Store configures the relational store.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Telemetry configures ingest and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Port is the TCP port to listen on. Env: CLASPER_PORT. Default 8081.
	Port int `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// Host is the address to bind. Defaults to "127.0.0.1" (localhost only).
	Host string `yaml:"host" mapstructure:"host"`

	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects "text" or "json" slog handlers. Defaults to "text".
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`
}

// TenantConfig identifies the local tenant/workspace pair.
type TenantConfig struct {
	// LocalTenantID is the tenant every adapter token must carry.
	// Env: CLASPER_LOCAL_TENANT_ID. Default "local".
	LocalTenantID string `yaml:"local_tenant_id" mapstructure:"local_tenant_id" validate:"required"`

	// LocalWorkspaceID is the workspace adapter tokens must carry when set.
	// Empty disables the workspace check. Env: CLASPER_LOCAL_WORKSPACE_ID.
	LocalWorkspaceID string `yaml:"local_workspace_id" mapstructure:"local_workspace_id"`

	// WorkspaceRoot is substituted for {{workspace.root}} in policy conditions.
	WorkspaceRoot string `yaml:"workspace_root" mapstructure:"workspace_root"`
}

// AuthConfig configures adapter JWTs and the local operator key.
type AuthConfig struct {
	// AdapterJWTSecret is the shared secret adapter tokens are signed with.
	// Env: ADAPTER_JWT_SECRET. Required to serve authenticated surfaces.
	AdapterJWTSecret string `yaml:"adapter_jwt_secret" mapstructure:"adapter_jwt_secret"`

	// AdapterJWTAlgorithm is the symmetric signing algorithm.
	// Env: ADAPTER_JWT_ALGORITHM. Default "HS256".
	AdapterJWTAlgorithm string `yaml:"adapter_jwt_algorithm" mapstructure:"adapter_jwt_algorithm" validate:"omitempty,oneof=HS256 HS384 HS512"`

	// AdapterTokenTTL is the lifetime of minted adapter tokens.
	// Capped at 2h. Default "2h".
	AdapterTokenTTL string `yaml:"adapter_token_ttl" mapstructure:"adapter_token_ttl" validate:"omitempty"`

	// OpsLocalAPIKey authenticates the local operator on /ops surfaces.
	// Plaintext or an argon2id hash ("$argon2id$..."). Empty disables
	// operator auth (single-operator dev mode). Env: OPS_LOCAL_API_KEY.
	OpsLocalAPIKey string `yaml:"ops_local_api_key" mapstructure:"ops_local_api_key"`
}

// PolicyConfig configures the decision engine.
type PolicyConfig struct {
	// ApprovalMode is "simulate" or "enforce". In simulate mode,
	// require_approval outcomes are auto-upgraded to allow and audited.
	// Env: CLASPER_APPROVAL_MODE (alias CLASPER_REQUIRE_APPROVAL_IN_CORE,
	// allow=simulate block=enforce). Default "enforce".
	ApprovalMode string `yaml:"approval_mode" mapstructure:"approval_mode" validate:"omitempty,oneof=simulate enforce"`

	// OperatorsEnabled enables the advanced condition operators
	// (all_under, any_under, exists) and CEL conditions.
	// Env: CLASPER_POLICY_OPERATORS.
	OperatorsEnabled bool `yaml:"operators_enabled" mapstructure:"operators_enabled"`

	// SeedFile is an optional YAML file of policies upserted at startup.
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`

	// DefaultScopeTTL is the granted-scope lifetime on allow. Default "1h".
	DefaultScopeTTL string `yaml:"default_scope_ttl" mapstructure:"default_scope_ttl" validate:"omitempty"`

	// DefaultMaxSteps is the granted-scope step ceiling when no policy
	// provides one. Default 50.
	DefaultMaxSteps int `yaml:"default_max_steps" mapstructure:"default_max_steps" validate:"omitempty,min=1"`

	// DefaultMaxCost is the granted-scope cost ceiling (USD) when no policy
	// provides one. Default 5.0.
	DefaultMaxCost float64 `yaml:"default_max_cost" mapstructure:"default_max_cost" validate:"omitempty,min=0"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	// Default "clasper.db".
	Path string `yaml:"path" mapstructure:"path"`
}

// TelemetryConfig configures ingest budgets and tracing.
type TelemetryConfig struct {
	// CostBudget is the per-tenant cost budget in USD. Overruns are audited
	// as cost_budget_exceeded but never block ingest. 0 disables the check.
	CostBudget float64 `yaml:"cost_budget" mapstructure:"cost_budget" validate:"omitempty,min=0"`

	// TracingEnabled turns on the stdout OTel trace exporter.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
}

// Approval modes for the decision engine.
const (
	ApprovalModeSimulate = "simulate"
	ApprovalModeEnforce  = "enforce"
)

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8081
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}

	if c.Tenant.LocalTenantID == "" {
		c.Tenant.LocalTenantID = "local"
	}

	if c.Auth.AdapterJWTAlgorithm == "" {
		c.Auth.AdapterJWTAlgorithm = "HS256"
	}
	if c.Auth.AdapterTokenTTL == "" {
		c.Auth.AdapterTokenTTL = "2h"
	}

	if c.Policy.ApprovalMode == "" {
		c.Policy.ApprovalMode = ApprovalModeEnforce
	}
	if c.Policy.DefaultScopeTTL == "" {
		c.Policy.DefaultScopeTTL = "1h"
	}
	if c.Policy.DefaultMaxSteps == 0 {
		c.Policy.DefaultMaxSteps = 50
	}
	if c.Policy.DefaultMaxCost == 0 {
		c.Policy.DefaultMaxCost = 5.0
	}

	if c.Store.Path == "" {
		c.Store.Path = "clasper.db"
	}
}

// AdapterTokenTTLDuration parses the configured token TTL, capping at 2 hours.
func (c *Config) AdapterTokenTTLDuration() time.Duration {
	const maxTTL = 2 * time.Hour
	d, err := time.ParseDuration(c.Auth.AdapterTokenTTL)
	if err != nil || d <= 0 || d > maxTTL {
		return maxTTL
	}
	return d
}

// DefaultScopeTTLDuration parses the granted-scope TTL with a 1h fallback.
func (c *Config) DefaultScopeTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.Policy.DefaultScopeTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
