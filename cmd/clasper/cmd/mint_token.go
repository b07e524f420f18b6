package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openclaw/clasper/internal/config"
	"github.com/openclaw/clasper/internal/domain/token"
)

var (
	mintAdapterID    string
	mintCapabilities []string
)

var mintTokenCmd = &cobra.Command{
	Use:   "mint-token",
	Short: "Mint an adapter bootstrap token",
	Long: `Mint a signed adapter JWT for bootstrapping a new adapter.

The token is bound to the local tenant and workspace and expires after the
configured TTL (capped at 2h). Adapters exchange it for a fresh token on
registration.

Example:
  clasper mint-token --adapter openclaw-main --capability fs.read --capability fs.write`,
	RunE: runMintToken,
}

func init() {
	mintTokenCmd.Flags().StringVar(&mintAdapterID, "adapter", "", "adapter id to mint for (required)")
	mintTokenCmd.Flags().StringArrayVar(&mintCapabilities, "capability", nil, "capability to embed (repeatable)")
	_ = mintTokenCmd.MarkFlagRequired("adapter")
	rootCmd.AddCommand(mintTokenCmd)
}

func runMintToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

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

	signed, err := tokens.Mint(mintAdapterID, mintCapabilities)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	fmt.Println(signed)
	return nil
}
