package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/opsbooks/opsbooks/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Bind address (overrides config)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides config)")
	serveCmd.Flags().Bool("metrics", false, "Expose Prometheus metrics on /metrics")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long:  `Start the OpsBooks daemon: open the ledger database and serve the reconciliation API until interrupted.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.API.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.API.Port = port
	}
	if metrics, _ := cmd.Flags().GetBool("metrics"); metrics {
		cfg.Metrics.Enabled = true
	}
	return daemon.Run(context.Background(), cfg)
}
