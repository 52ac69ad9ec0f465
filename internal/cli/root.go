package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsbooks/opsbooks/internal/daemon"
)

// ─── Root CLI ───────────────────────────────────────────────────────────────

var configPath string

var rootCmd = &cobra.Command{
	Use:   "opsbooks",
	Short: "Small-business books with bank reconciliation",
	Long: `OpsBooks keeps a double-entry ledger for a small service business and
reconciles it against bank statements: import statement files, match lines
to ledger postings, write adjustment entries, and report cash flow.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml (default ~/.opsbooks/config.toml)")
}

// Execute runs the CLI. It is the only entry point main should call.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (daemon.Config, error) {
	path := configPath
	if path == "" {
		path = daemon.DefaultConfigPath()
	}
	return daemon.Load(path)
}
