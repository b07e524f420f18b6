package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"

	"github.com/openclaw/clasper/internal/domain/token"
)

type contextKey string

// adapterContextKey carries the verified adapter identity.
const adapterContextKey contextKey = "adapter_context"

// AdapterFromContext returns the verified adapter identity, if any.
func AdapterFromContext(ctx context.Context) (*token.AdapterContext, bool) {
	ac, ok := ctx.Value(adapterContextKey).(*token.AdapterContext)
	return ac, ok
}

// requireAdapterToken verifies X-Adapter-Token and attaches the adapter
// context to the request.
func (s *Server) requireAdapterToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Adapter-Token")
		ac, err := s.tokens.Verify(raw)
		if err != nil {
			respondAuthError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), adapterContextKey, ac)))
	}
}

// requireOpsKey checks X-Ops-Api-Key against the configured operator key. An
// empty configured key disables operator auth (single-operator dev mode).
// The configured value may be an argon2id hash or a plain key.
func (s *Server) requireOpsKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		configured := s.cfg.Auth.OpsLocalAPIKey
		if configured == "" {
			next(w, r)
			return
		}
		presented := r.Header.Get("X-Ops-Api-Key")
		if presented == "" {
			respondError(w, http.StatusUnauthorized, "missing_token", "X-Ops-Api-Key required")
			return
		}
		if !opsKeyMatches(configured, presented) {
			respondError(w, http.StatusUnauthorized, "invalid_token", "operator key rejected")
			return
		}
		next(w, r)
	}
}

func opsKeyMatches(configured, presented string) bool {
	if strings.HasPrefix(configured, "$argon2id$") {
		ok, err := argon2id.ComparePasswordAndHash(presented, configured)
		return err == nil && ok
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
