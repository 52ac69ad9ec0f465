package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opsbooks/opsbooks/internal/domain"
	"github.com/opsbooks/opsbooks/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)

	accountsAddCmd.Flags().String("type", "", "Account type: asset, liability, equity, income, expense (required)")
	accountsAddCmd.Flags().String("subtype", "", "Account subtype, e.g. fixed_asset, long_term_debt")
	accountsAddCmd.Flags().Bool("cash", false, "Mark as a cash or cash-equivalent account")
	accountsAddCmd.Flags().String("section", "", "Declared cash-flow section: operating, investing, financing, non_cash")
	accountsAddCmd.MarkFlagRequired("type")
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the chart of accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := sqlite.Open(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer db.Close()

		accounts, err := db.ListAccounts()
		if err != nil {
			return err
		}
		for _, a := range accounts {
			cash := ""
			if a.IsCash {
				cash = " [cash]"
			}
			fmt.Printf("%-36s  %-10s %-30s%s\n", a.ID, a.Type, a.Name, cash)
		}
		return nil
	},
}

var accountsAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		subtype, _ := cmd.Flags().GetString("subtype")
		isCash, _ := cmd.Flags().GetBool("cash")
		section, _ := cmd.Flags().GetString("section")

		accountType := domain.AccountType(typ)
		normal, ok := map[domain.AccountType]domain.NormalBalance{
			domain.AccountAsset:     domain.NormalDebit,
			domain.AccountExpense:   domain.NormalDebit,
			domain.AccountLiability: domain.NormalCredit,
			domain.AccountEquity:    domain.NormalCredit,
			domain.AccountIncome:    domain.NormalCredit,
		}[accountType]
		if !ok {
			return fmt.Errorf("unknown account type %q", typ)
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

		account := domain.Account{
			ID:              uuid.NewString(),
			Name:            args[0],
			Type:            accountType,
			Subtype:         subtype,
			NormalBalance:   normal,
			IsCash:          isCash,
			CashFlowSection: domain.CashFlowSection(section),
		}
		if err := db.UpsertAccount(account); err != nil {
			return err
		}
		fmt.Printf("Created account %s (%s)\n", account.ID, account.Name)
		return nil
	},
}
