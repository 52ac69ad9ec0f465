package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsbooks/opsbooks/internal/app/importer"
	"github.com/opsbooks/opsbooks/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringP("actor", "a", "", "User recorded against the import (required)")
	importCmd.Flags().StringP("format", "f", "", "Statement format: csv, ofx, qfx (default: sniff)")
}

var importCmd = &cobra.Command{
	Use:   "import RECONCILIATION_ID FILE",
	Short: "Import a bank statement file into a reconciliation",
	Long: `Parse a CSV or OFX/QFX bank statement and attach its lines to an
in-progress reconciliation. Rows that fail to parse are reported and
skipped; the rest are imported.`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	reconID, path := args[0], args[1]
	actor, _ := cmd.Flags().GetString("actor")
	format, _ := cmd.Flags().GetString("format")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := sqlite.Open(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	imp := importer.New(importer.Config{ChunkSize: cfg.Import.ChunkSize}, db)
	lines, rejected, err := imp.Load(context.Background(), actor, reconID, f, format)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d statement line(s)\n", len(lines))
	for _, msg := range rejected {
		fmt.Printf("  skipped: %s\n", msg)
	}
	return nil
}
