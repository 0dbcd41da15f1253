package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	grpc_adapter "github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
)

var refFlag string

type postFunc func(ctx context.Context, refID uuid.UUID, amount domain.Quantity) (*grpc_adapter.Receipt, error)

var depositCmd = &cobra.Command{
	Use:   "deposit [amount]",
	Short: "Deposit value into the caller's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPost(cmd, args[0], "deposited", ledgerClient.Deposit)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [amount]",
	Short: "Send value without naming an operation (bare transfer)",
	Long: `Sends value to the ledger without calling deposit.
The ledger applies exactly the same checks and emits the same Deposited event.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPost(cmd, args[0], "deposited", ledgerClient.Receive)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw [amount]",
	Short: "Withdraw value from the caller's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPost(cmd, args[0], "withdrew", ledgerClient.Withdraw)
	},
}

func init() {
	for _, c := range []*cobra.Command{depositCmd, sendCmd, withdrawCmd} {
		c.Flags().StringVar(&refFlag, "ref", "", "reference id (uuid); retries with the same id are no-ops")
		rootCmd.AddCommand(c)
	}
}

func runPost(cmd *cobra.Command, rawAmount, verb string, post postFunc) error {
	caller, err := requireCaller()
	if err != nil {
		return err
	}
	amount, err := domain.ParseQuantity(rawAmount)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	refID := uuid.Nil
	if refFlag != "" {
		if refID, err = uuid.Parse(refFlag); err != nil {
			return fmt.Errorf("invalid ref: %w", err)
		}
	}

	receipt, err := post(cmd.Context(), refID, amount)
	if err != nil {
		return err
	}
	cmd.Printf("%s %s %s (seq %d, ref %s)\n", caller, verb, amount, receipt.Sequence, receipt.RefID)
	cmd.Printf("balance: %s\n", receipt.Balance)
	return nil
}
