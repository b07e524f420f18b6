// Package adapter contains domain types for the adapter registry: the
// persistent table of registered dispatcher processes, their declared
// capabilities, and risk class.
package adapter

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no adapter matches the lookup.
var ErrNotFound = errors.New("adapter not found")

// RiskClass buckets adapters by blast radius.
type RiskClass string

const (
	RiskLow      RiskClass = "low"
	RiskMedium   RiskClass = "medium"
	RiskHigh     RiskClass = "high"
	RiskCritical RiskClass = "critical"
)

// Valid reports whether the risk class is one of the known buckets.
func (r RiskClass) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Adapter is one registered dispatcher process version. Adapters are upserted
// by (tenant, adapter_id, version) and never implicitly deleted.
type Adapter struct {
	TenantID     string    `json:"tenant_id"`
	AdapterID    string    `json:"adapter_id"`
	Version      string    `json:"version"`
	DisplayName  string    `json:"display_name,omitempty"`
	RiskClass    RiskClass `json:"risk_class"`
	Capabilities []string  `json:"capabilities"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasCapability reports whether the adapter declared the capability.
func (a *Adapter) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Registration is the register request body.
type Registration struct {
	AdapterID    string    `json:"adapter_id" validate:"required"`
	Version      string    `json:"version" validate:"required"`
	DisplayName  string    `json:"display_name,omitempty"`
	RiskClass    RiskClass `json:"risk_class" validate:"required,oneof=low medium high critical"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Enabled      *bool     `json:"enabled,omitempty"`
}

// ListOptions paginates registry listings.
type ListOptions struct {
	Limit  int
	Offset int
}

// Registry persists registered adapters.
type Registry interface {
	// Upsert creates or updates an adapter keyed by (tenant, id, version).
	Upsert(ctx context.Context, a *Adapter) error
	// Get returns the given version, or the most recently updated version
	// when version is empty. Returns ErrNotFound when absent.
	Get(ctx context.Context, tenantID, adapterID, version string) (*Adapter, error)
	// List returns adapters for a tenant ordered by (adapter_id, version).
	List(ctx context.Context, tenantID string, opts ListOptions) ([]Adapter, error)
}
