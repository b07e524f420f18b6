package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openclaw/clasper/internal/config"
	"github.com/openclaw/clasper/internal/domain/audit"
	"github.com/openclaw/clasper/internal/domain/token"
	"github.com/openclaw/clasper/internal/service"
)

// Pinger reports storage reachability for the health endpoint.
type Pinger interface {
	Ping() error
}

// Server owns the HTTP mux and the service dependencies behind it.
type Server struct {
	cfg       *config.Config
	tokens    *token.Manager
	registry  *service.RegistryService
	decisions *service.DecisionService
	approvals *service.ApprovalService
	policies  *service.PolicyService
	ingest    *service.IngestService
	auditLog  audit.Store
	storePing Pinger
	metrics   *Metrics
	promReg   *prometheus.Registry
	logger    *slog.Logger
	version   string
}

// NewServer wires the HTTP surface.
func NewServer(
	cfg *config.Config,
	tokens *token.Manager,
	registry *service.RegistryService,
	decisions *service.DecisionService,
	approvals *service.ApprovalService,
	policies *service.PolicyService,
	ingest *service.IngestService,
	auditLog audit.Store,
	storePing Pinger,
	logger *slog.Logger,
	version string,
) *Server {
	promReg := prometheus.NewRegistry()
	return &Server{
		cfg:       cfg,
		tokens:    tokens,
		registry:  registry,
		decisions: decisions,
		approvals: approvals,
		policies:  policies,
		ingest:    ingest,
		auditLog:  auditLog,
		storePing: storePing,
		metrics:   NewMetrics(promReg),
		promReg:   promReg,
		logger:    logger.With("component", "http"),
		version:   version,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /adapters/register", s.instrument("register", s.requireAdapterToken(s.handleRegister)))
	mux.HandleFunc("POST /api/execution/request", s.instrument("execution_request", s.requireAdapterToken(s.handleExecutionRequest)))
	mux.HandleFunc("GET /api/execution/{execution_id}", s.instrument("execution_get", s.requireAdapterToken(s.handleExecutionGet)))
	mux.HandleFunc("POST /api/ingest/{kind}", s.instrument("ingest", s.requireAdapterToken(s.handleIngest)))

	mux.HandleFunc("POST /api/decisions/{decision_id}/resolve", s.instrument("resolve", s.requireOpsKey(s.handleResolve)))
	mux.HandleFunc("POST /ops/api/decisions/reconcile", s.instrument("reconcile", s.requireOpsKey(s.handleReconcile)))
	mux.HandleFunc("POST /ops/api/policies", s.instrument("policies", s.requireOpsKey(s.handlePolicyUpsert)))
	mux.HandleFunc("GET /ops/api/me", s.instrument("me", s.requireOpsKey(s.handleMe)))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	return mux
}

// instrument wraps a handler with request counting and latency observation.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// handleHealth reports component health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	status := "ok"

	if s.storePing != nil {
		if err := s.storePing.Ping(); err != nil {
			components["store"] = "unreachable: " + err.Error()
			status = "degraded"
		} else {
			components["store"] = "ok"
		}
	} else {
		components["store"] = "not configured"
	}
	if _, err := s.auditLog.Verify(r.Context(), s.cfg.Tenant.LocalTenantID); err != nil {
		components["audit"] = "error: " + err.Error()
		status = "degraded"
	} else {
		components["audit"] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"version":    s.version,
	})
}

// handleMe resolves the local operator identity. The local operator always
// holds policy management rights.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"operator_id": "local-operator",
		"tenant_id":   s.cfg.Tenant.LocalTenantID,
		"permissions": []string{"policy:manage", "decision:resolve", "audit:read"},
	})
}
