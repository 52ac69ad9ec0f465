package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsbooks/opsbooks/internal/app/cashflow"
	"github.com/opsbooks/opsbooks/internal/domain"
	"github.com/opsbooks/opsbooks/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(cashflowCmd)
	cashflowCmd.Flags().String("start", "", "Period start, YYYY-MM-DD (required)")
	cashflowCmd.Flags().String("end", "", "Period end, YYYY-MM-DD (required)")
	cashflowCmd.Flags().String("accounts", "", "Comma-separated cash account IDs (default: all cash accounts)")
	cashflowCmd.MarkFlagRequired("start")
	cashflowCmd.MarkFlagRequired("end")
}

var cashflowCmd = &cobra.Command{
	Use:   "cashflow",
	Short: "Print a cash-flow statement for a period",
	RunE:  runCashflow,
}

func runCashflow(cmd *cobra.Command, args []string) error {
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	start, err := time.Parse(time.DateOnly, startStr)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(time.DateOnly, endStr)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := sqlite.Open(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	var accountIDs []string
	if raw, _ := cmd.Flags().GetString("accounts"); raw != "" {
		accountIDs = strings.Split(raw, ",")
	} else {
		accountIDs, err = db.CashAccountIDs()
		if err != nil {
			return err
		}
	}

	stmt, err := cashflow.New(sqlite.NewProvider(db)).Statement(context.Background(), start, end, accountIDs)
	if err != nil {
		return err
	}

	fmt.Printf("Cash Flow Statement  %s to %s\n\n", stmt.Start.Format(time.DateOnly), stmt.End.Format(time.DateOnly))
	fmt.Printf("Beginning cash %38s\n\n", stmt.BeginningCash.StringFixed(2))
	printGroup("Operating activities", stmt.Operating)
	printGroup("Investing activities", stmt.Investing)
	printGroup("Financing activities", stmt.Financing)
	if !stmt.Unclassified.IsZero() {
		fmt.Printf("Unclassified %40s\n", stmt.Unclassified.StringFixed(2))
	}
	fmt.Printf("\nNet change in cash %34s\n", stmt.NetChange.StringFixed(2))
	fmt.Printf("Ending cash %41s\n", stmt.EndingCash.StringFixed(2))
	if stmt.Warning != "" {
		fmt.Printf("\nWARNING: %s\n", stmt.Warning)
	}
	return nil
}

func printGroup(title string, g domain.CashFlowGroup) {
	fmt.Println(title)
	for _, line := range g.Lines {
		fmt.Printf("  %-40s %11s\n", line.Label, line.Amount.StringFixed(2))
	}
	fmt.Printf("  %-40s %11s\n\n", "Subtotal", g.Subtotal.StringFixed(2))
}
