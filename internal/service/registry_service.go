// Package service contains the application services that sit between the
// HTTP surface and the domain: adapter registration, decision issuing,
// approval resolution, and telemetry ingest.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/openclaw/clasper/internal/domain/adapter"
	"github.com/openclaw/clasper/internal/domain/audit"
	"github.com/openclaw/clasper/internal/domain/token"
)

// RegistryService registers adapters and mints their bootstrap tokens.
type RegistryService struct {
	registry adapter.Registry
	tokens   *token.Manager
	auditLog audit.Store
	tenantID string
	validate *validator.Validate
	logger   *slog.Logger
}

// NewRegistryService wires the registry service.
func NewRegistryService(registry adapter.Registry, tokens *token.Manager, auditLog audit.Store, tenantID string, logger *slog.Logger) *RegistryService {
	return &RegistryService{
		registry: registry,
		tokens:   tokens,
		auditLog: auditLog,
		tenantID: tenantID,
		validate: validator.New(),
		logger:   logger.With("component", "registry"),
	}
}

// RegistrationResult is the adapter record plus a fresh token so the shim can
// bootstrap after (re)registration.
type RegistrationResult struct {
	Adapter *adapter.Adapter
	Token   string
}

// Register upserts the adapter by (tenant, adapter_id, version) and returns
// the stored record with a fresh token. Registration is idempotent on the
// triple.
func (s *RegistryService) Register(ctx context.Context, reg *adapter.Registration) (*RegistrationResult, error) {
	if err := s.validate.Struct(reg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	enabled := true
	if reg.Enabled != nil {
		enabled = *reg.Enabled
	}
	a := &adapter.Adapter{
		TenantID:     s.tenantID,
		AdapterID:    reg.AdapterID,
		Version:      reg.Version,
		DisplayName:  reg.DisplayName,
		RiskClass:    reg.RiskClass,
		Capabilities: reg.Capabilities,
		Enabled:      enabled,
	}
	if err := s.registry.Upsert(ctx, a); err != nil {
		return nil, err
	}

	if _, err := s.auditLog.Append(ctx, s.tenantID, audit.EventAdapterRegistered, "adapter:"+a.AdapterID, map[string]any{
		"adapter_id":   a.AdapterID,
		"version":      a.Version,
		"risk_class":   string(a.RiskClass),
		"capabilities": a.Capabilities,
		"enabled":      a.Enabled,
	}); err != nil {
		return nil, fmt.Errorf("audit adapter registration: %w", err)
	}

	tok, err := s.tokens.Mint(a.AdapterID, a.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("mint adapter token: %w", err)
	}

	s.logger.Info("adapter registered",
		"adapter_id", a.AdapterID,
		"version", a.Version,
		"risk_class", a.RiskClass)
	return &RegistrationResult{Adapter: a, Token: tok}, nil
}

// Get returns an adapter, latest version when version is empty.
func (s *RegistryService) Get(ctx context.Context, adapterID, version string) (*adapter.Adapter, error) {
	return s.registry.Get(ctx, s.tenantID, adapterID, version)
}

// List returns the tenant's adapters.
func (s *RegistryService) List(ctx context.Context, opts adapter.ListOptions) ([]adapter.Adapter, error) {
	return s.registry.List(ctx, s.tenantID, opts)
}
