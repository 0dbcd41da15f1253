package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
)

var statsJSON bool

var balanceCmd = &cobra.Command{
	Use:   "balance [account]",
	Short: "Show the balance of an account (defaults to the caller)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBalance,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger totals, counters and limits",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output stats as JSON")
	rootCmd.AddCommand(balanceCmd, statsCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	account := domain.Identity(callerID)
	if len(args) == 1 {
		account = domain.Identity(args[0])
	}
	if account == "" {
		return errors.New("account argument or --caller is required")
	}
	balance, err := ledgerClient.Balance(cmd.Context(), account)
	if err != nil {
		return fmt.Errorf("balance failed: %w", err)
	}
	cmd.Printf("%s: %s\n", account, balance)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	stats, err := ledgerClient.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	if statsJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal stats: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Printf("administrator:     %s\n", stats.Administrator)
	cmd.Printf("withdrawal limit:  %s\n", stats.WithdrawalLimit)
	cmd.Printf("bank cap:          %s\n", stats.BankCap)
	cmd.Printf("total deposits:    %s\n", stats.TotalDeposits)
	cmd.Printf("total withdrawals: %s\n", stats.TotalWithdrawals)
	cmd.Printf("deposit count:     %d\n", stats.DepositCount)
	cmd.Printf("withdrawal count:  %d\n", stats.WithdrawalCount)
	return nil
}
