package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/openclaw/clasper/internal/adapter/inbound/httpapi"
	celeval "github.com/openclaw/clasper/internal/adapter/outbound/cel"
	"github.com/openclaw/clasper/internal/adapter/outbound/sqlite"
	"github.com/openclaw/clasper/internal/config"
	"github.com/openclaw/clasper/internal/domain/token"
	"github.com/openclaw/clasper/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control plane",
	Long: `Start the Clasper control plane.

The server binds localhost only by default and exposes:
  /adapters/register          adapter registration (adapter token)
  /api/execution/request      decision requests (adapter token)
  /api/execution/{id}         approval polling (adapter token)
  /api/ingest/{kind}          telemetry ingest (adapter token)
  /api/decisions/{id}/resolve operator resolution (ops key)
  /ops/api/*                  operator surfaces (ops key)
  /health, /metrics           unauthenticated observability

Examples:
  # Start with defaults (SQLite at ./clasper.db, port 8081)
  clasper serve

  # Start with a specific config file
  clasper --config /path/to/clasper.yaml serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.TracingEnabled {
		tp, err := setupTracing()
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		var span trace.Span
		ctx, span = tp.Tracer("clasper/serve").Start(ctx, "boot")
		defer span.End()
	}

	store, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()
	logger.Info("store opened", "path", cfg.Store.Path)

	tokens, err := token.NewManager(
		cfg.Auth.AdapterJWTSecret,
		cfg.Auth.AdapterJWTAlgorithm,
		cfg.AdapterTokenTTLDuration(),
		cfg.Tenant.LocalTenantID,
		cfg.Tenant.LocalWorkspaceID,
	)
	if err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}

	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	adapterRegistry := sqlite.NewAdapterRegistry(store)
	policyStore := sqlite.NewPolicyStore(store)
	ledger := sqlite.NewDecisionLedger(store)
	toolAuth := sqlite.NewToolAuthorizations(store)
	auditLog := sqlite.NewAuditLog(store)
	telemetryStore := sqlite.NewTelemetryStore(store)

	registrySvc := service.NewRegistryService(adapterRegistry, tokens, auditLog, cfg.Tenant.LocalTenantID, logger)
	decisionSvc := service.NewDecisionService(policyStore, adapterRegistry, ledger, toolAuth, auditLog, evaluator, cfg, logger)
	approvalSvc := service.NewApprovalService(ledger, policyStore, adapterRegistry, auditLog, evaluator, cfg, logger)
	policySvc := service.NewPolicyService(policyStore, approvalSvc, ledger, auditLog, evaluator, cfg, logger)
	ingestSvc := service.NewIngestService(telemetryStore, telemetryStore, auditLog, cfg, logger)

	if cfg.Policy.SeedFile != "" {
		count, err := policySvc.SeedFromFile(ctx, cfg.Policy.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to seed policies from %s: %w", cfg.Policy.SeedFile, err)
		}
		logger.Info("policies seeded", "file", cfg.Policy.SeedFile, "count", count)
	}

	server := httpapi.NewServer(cfg, tokens, registrySvc, decisionSvc, approvalSvc, policySvc, ingestSvc, auditLog, store.DB(), logger, Version)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("clasper starting",
			"version", Version,
			"addr", addr,
			"tenant", cfg.Tenant.LocalTenantID,
			"approval_mode", cfg.Policy.ApprovalMode,
			"operators_enabled", cfg.Policy.OperatorsEnabled,
			"ops_auth", cfg.Auth.OpsLocalAPIKey != "",
		)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown was not clean", "error", err)
	}
	logger.Info("clasper stopped")
	return nil
}

// newLogger builds the slog logger from server config. Logs go to stderr.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}
	var handler slog.Handler
	if cfg.Server.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupTracing installs a stdout span exporter. Traces print to stdout; the
// server keeps its structured logs on stderr so the two streams do not mix.
func setupTracing() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	res := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("clasper"),
		semconv.ServiceVersion(Version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}
