// Package cmd provides the CLI commands for Clasper.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/clasper/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "clasper",
	Short: "Clasper - agent execution control plane",
	Long: `Clasper is a local control plane that governs agent tool execution.

Adapters ask for a decision before dispatching any side-effecting tool call.
Clasper evaluates the local policy set and answers allow, deny, or
require_approval; pending approvals are resolved by the local operator and
every state change lands in a hash-chained audit log.

Quick start:
  1. Export an adapter secret: export ADAPTER_JWT_SECRET=$(openssl rand -hex 32)
  2. Run: clasper serve
  3. Mint an adapter token: clasper mint-token --adapter my-agent

Configuration:
  Config is loaded from clasper.yaml in the current directory,
  $HOME/.clasper/, or /etc/clasper/.

  Environment variables override config values with the CLASPER_ prefix.
  Example: CLASPER_PORT=9090

Commands:
  serve         Start the control plane
  mint-token    Mint an adapter bootstrap token
  verify-audit  Verify the audit log hash chain
  version       Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./clasper.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
