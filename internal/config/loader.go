// Package config provides configuration loading for the Clasper control plane.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for clasper.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to avoid
// matching the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("clasper")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: CLASPER_SERVER_LOG_LEVEL etc.
	viper.SetEnvPrefix("CLASPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindEnvKeys()
}

// findConfigFile searches standard locations for a clasper config file with
// an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".clasper"),
		"/etc/clasper",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "clasper"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds config keys to their environment variables. The contract
// names from the adapter side (ADAPTER_JWT_SECRET, OPS_LOCAL_API_KEY, and the
// flat CLASPER_* names) are bound explicitly since they predate the nested
// config schema.
func bindEnvKeys() {
	_ = viper.BindEnv("server.port", "CLASPER_PORT")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.log_format")

	_ = viper.BindEnv("tenant.local_tenant_id", "CLASPER_LOCAL_TENANT_ID")
	_ = viper.BindEnv("tenant.local_workspace_id", "CLASPER_LOCAL_WORKSPACE_ID")
	_ = viper.BindEnv("tenant.workspace_root", "CLASPER_WORKSPACE_ROOT")

	_ = viper.BindEnv("auth.adapter_jwt_secret", "ADAPTER_JWT_SECRET")
	_ = viper.BindEnv("auth.adapter_jwt_algorithm", "ADAPTER_JWT_ALGORITHM")
	_ = viper.BindEnv("auth.ops_local_api_key", "OPS_LOCAL_API_KEY")

	_ = viper.BindEnv("policy.approval_mode", "CLASPER_APPROVAL_MODE")
	_ = viper.BindEnv("policy.operators_enabled", "CLASPER_POLICY_OPERATORS")
	_ = viper.BindEnv("policy.seed_file", "CLASPER_POLICY_SEED_FILE")

	_ = viper.BindEnv("store.path", "CLASPER_STORE_PATH")

	_ = viper.BindEnv("telemetry.cost_budget", "CLASPER_COST_BUDGET")
	_ = viper.BindEnv("telemetry.tracing_enabled", "CLASPER_TRACING_ENABLED")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates the result.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyApprovalModeAlias(&cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyApprovalModeAlias maps the legacy CLASPER_REQUIRE_APPROVAL_IN_CORE
// variable onto approval_mode when the new name is not set. "allow" meant
// auto-allow approvals in core (simulate); "block" meant hold them (enforce).
func applyApprovalModeAlias(cfg *Config) {
	if cfg.Policy.ApprovalMode != "" {
		return
	}
	switch strings.ToLower(os.Getenv("CLASPER_REQUIRE_APPROVAL_IN_CORE")) {
	case "allow":
		cfg.Policy.ApprovalMode = ApprovalModeSimulate
	case "block":
		cfg.Policy.ApprovalMode = ApprovalModeEnforce
	}
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
