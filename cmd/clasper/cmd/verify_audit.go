package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openclaw/clasper/internal/adapter/outbound/sqlite"
	"github.com/openclaw/clasper/internal/config"
)

var verifyTenantID string

var verifyAuditCmd = &cobra.Command{
	Use:   "verify-audit",
	Short: "Verify the audit log hash chain",
	Long: `Walk the audit log for a tenant and recompute every hash link.

Exits non-zero if any entry fails verification, printing the first bad
sequence number. A verified chain proves the log was not edited in place;
it cannot prove entries were never truncated from the tail.

Example:
  clasper verify-audit
  clasper verify-audit --tenant local`,
	RunE: runVerifyAudit,
}

func init() {
	verifyAuditCmd.Flags().StringVar(&verifyTenantID, "tenant", "", "tenant to verify (default: configured local tenant)")
	rootCmd.AddCommand(verifyAuditCmd)
}

func runVerifyAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tenantID := verifyTenantID
	if tenantID == "" {
		tenantID = cfg.Tenant.LocalTenantID
	}

	store, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	result, err := sqlite.NewAuditLog(store).Verify(cmd.Context(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to verify audit log: %w", err)
	}

	if !result.Verified {
		return fmt.Errorf("audit chain BROKEN for tenant %s: first bad entry at seq %d of %d", tenantID, result.FirstBadSeq, result.Entries)
	}
	fmt.Printf("audit chain verified: tenant=%s entries=%d\n", tenantID, result.Entries)
	return nil
}
