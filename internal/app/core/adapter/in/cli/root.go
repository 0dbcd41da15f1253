// Package cli 提供 ledgerctl 指令，透過 gRPC 操作帳本服務
package cli

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	grpc_adapter "github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	grpc_pool "github.com/JoeShih716/go-kipu-bank/pkg/grpc"
)

// LedgerClient 指令使用的帳本操作 (grpc_adapter.Client)
type LedgerClient interface {
	Deposit(ctx context.Context, refID uuid.UUID, amount domain.Quantity) (*grpc_adapter.Receipt, error)
	Receive(ctx context.Context, refID uuid.UUID, amount domain.Quantity) (*grpc_adapter.Receipt, error)
	Withdraw(ctx context.Context, refID uuid.UUID, amount domain.Quantity) (*grpc_adapter.Receipt, error)
	Balance(ctx context.Context, account domain.Identity) (domain.Quantity, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Watch(ctx context.Context, from uint64, fn func(domain.Event) error) error
}

var (
	serverAddr string
	callerID   string
)

var (
	// ledgerClient 測試時直接替換
	ledgerClient LedgerClient
	closeClient  func() error
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operate a capped custodial ledger",
	Long: `ledgerctl talks to the ledger service over gRPC.
Deposits are credited to the caller, withdrawals are bounded by the caller's
balance and the per-call withdrawal limit, and total custody never exceeds the bank cap.`,
	SilenceUsage:      true,
	PersistentPreRunE: connect,
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		if closeClient == nil {
			return nil
		}
		err := closeClient()
		closeClient = nil
		ledgerClient = nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50051", "ledger service address")
	rootCmd.PersistentFlags().StringVar(&callerID, "caller", "", "identity sent as x-caller metadata")
}

// Execute 執行 ledgerctl
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func connect(_ *cobra.Command, _ []string) error {
	if ledgerClient != nil {
		return nil
	}
	pool := grpc_pool.NewPool()
	conn, err := pool.GetConnection(serverAddr)
	if err != nil {
		return err
	}
	ledgerClient = grpc_adapter.NewClient(conn, domain.Identity(callerID))
	closeClient = pool.Close
	return nil
}

// requireCaller 存提款必須指定當事人
func requireCaller() (domain.Identity, error) {
	if callerID == "" {
		return "", errors.New("--caller is required")
	}
	return domain.Identity(callerID), nil
}
