// Package token mints and verifies short-lived adapter JWTs. Tokens tie an
// adapter instance to the local tenant, workspace, and a capability set; they
// are signed with a shared secret (symmetric, HS256 by default) and carry no
// externally verifiable attestation.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failures map onto the auth error taxonomy. Handlers translate
// these into 401/403 responses with the matching code string.
var (
	ErrMissingToken = errors.New("missing_token")
	ErrInvalidToken = errors.New("invalid_token")
	ErrMissingClaim = errors.New("missing_claim")
	ErrConfigError  = errors.New("config_error")
)

// maxTTL caps adapter token lifetime regardless of configuration.
const maxTTL = 2 * time.Hour

// Claims are the adapter JWT claims. AllowedCapabilities is kept as a raw
// slice so non-string entries can be dropped at verification time rather than
// failing the whole token.
type Claims struct {
	jwt.RegisteredClaims
	Type                string `json:"type"`
	AdapterID           string `json:"adapter_id"`
	TenantID            string `json:"tenant_id"`
	WorkspaceID         string `json:"workspace_id,omitempty"`
	AllowedCapabilities []any  `json:"allowed_capabilities,omitempty"`
}

// AdapterContext is the verified identity attached to authenticated requests.
type AdapterContext struct {
	AdapterID           string
	TenantID            string
	WorkspaceID         string
	AllowedCapabilities []string
}

// Manager mints and verifies adapter tokens against the local tenant and
// workspace configuration.
type Manager struct {
	secret      []byte
	method      jwt.SigningMethod
	ttl         time.Duration
	tenantID    string
	workspaceID string
}

// NewManager builds a token manager. algorithm must be one of HS256, HS384,
// HS512. ttl values above 2h (or non-positive) are clamped to 2h.
func NewManager(secret, algorithm string, ttl time.Duration, tenantID, workspaceID string) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: adapter JWT secret is not configured", ErrConfigError)
	}
	var method jwt.SigningMethod
	switch algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("%w: unsupported JWT algorithm %q", ErrConfigError, algorithm)
	}
	if ttl <= 0 || ttl > maxTTL {
		ttl = maxTTL
	}
	return &Manager{
		secret:      []byte(secret),
		method:      method,
		ttl:         ttl,
		tenantID:    tenantID,
		workspaceID: workspaceID,
	}, nil
}

// Mint creates a signed adapter token for the given adapter and capability
// set. The subject is "adapter:<id>".
func (m *Manager) Mint(adapterID string, capabilities []string) (string, error) {
	if adapterID == "" {
		return "", fmt.Errorf("%w: adapter_id", ErrMissingClaim)
	}
	now := time.Now().UTC()
	caps := make([]any, len(capabilities))
	for i, c := range capabilities {
		caps[i] = c
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "adapter:" + adapterID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Type:                "adapter",
		AdapterID:           adapterID,
		TenantID:            m.tenantID,
		WorkspaceID:         m.workspaceID,
		AllowedCapabilities: caps,
	}
	return jwt.NewWithClaims(m.method, claims).SignedString(m.secret)
}

// Verify parses and validates an adapter token, checking signature, type,
// required claims, and the local tenant/workspace binding. Non-string
// capability entries are silently dropped. There is no implicit renewal:
// an expired token is simply invalid.
func (m *Manager) Verify(tokenString string) (*AdapterContext, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != "adapter" {
		return nil, fmt.Errorf("%w: token type %q is not an adapter token", ErrInvalidToken, claims.Type)
	}
	if claims.AdapterID == "" {
		return nil, fmt.Errorf("%w: adapter_id", ErrMissingClaim)
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}
	if claims.TenantID != m.tenantID {
		return nil, fmt.Errorf("%w: token tenant %q does not match local tenant", ErrInvalidToken, claims.TenantID)
	}
	if m.workspaceID != "" && claims.WorkspaceID != m.workspaceID {
		return nil, fmt.Errorf("%w: token workspace %q does not match local workspace", ErrInvalidToken, claims.WorkspaceID)
	}

	caps := make([]string, 0, len(claims.AllowedCapabilities))
	for _, c := range claims.AllowedCapabilities {
		if s, ok := c.(string); ok {
			caps = append(caps, s)
		}
	}

	return &AdapterContext{
		AdapterID:           claims.AdapterID,
		TenantID:            claims.TenantID,
		WorkspaceID:         claims.WorkspaceID,
		AllowedCapabilities: caps,
	}, nil
}
