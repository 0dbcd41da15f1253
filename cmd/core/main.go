package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/in/grpc"
	kafka_adapter "github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/out/kafka"
	memory_adapter "github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/out/mysql"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/out/sqljournal"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
	"github.com/JoeShih716/go-kipu-bank/pkg/logger"
	"github.com/JoeShih716/go-kipu-bank/pkg/mysql"
	"github.com/JoeShih716/go-kipu-bank/pkg/wal"
)

func main() {
	// 1. 載入設定
	path := defaultConfigPath
	if v, ok := os.LookupEnv("LEDGER_CONFIG"); ok {
		path = v
	}
	cfg, err := loadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 上限規則 (不可變)
	policy, err := cfg.Bank.Policy()
	if err != nil {
		return err
	}
	if policy.BankCap.LessThan(policy.WithdrawalLimit) {
		zlog.Warn("bank cap is below the withdrawal limit; withdrawals are effectively bounded by the cap",
			zap.Stringer("withdrawal_limit", policy.WithdrawalLimit),
			zap.Stringer("bank_cap", policy.BankCap),
		)
	}
	admin := domain.Identity(cfg.Bank.Administrator)

	// 4. 通知與撥付
	bus := memory_adapter.NewEventBus(cfg.Server.EventBuffer)
	defer bus.Close()
	wallet := memory_adapter.NewWallet()

	// 5. 帳本
	// LMAX 迴圈不跟著訊號停止，GracefulStop 等進行中的 RPC 做完後才停
	ledgerCtx, stopLedger := context.WithCancel(context.Background())
	defer stopLedger()
	ledger, closeLedger, err := newLedger(ledgerCtx, cfg, admin, policy, bus, wallet, zlog)
	if err != nil {
		return err
	}
	defer closeLedger()

	// 6. Kafka 轉發 (Optional)
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := kafka_adapter.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zlog)
		relayCtx, stopRelay := context.WithCancel(context.Background())
		relayDone := make(chan struct{})
		go func() {
			defer close(relayDone)
			last := publisher.Relay(relayCtx, bus, 0)
			zlog.Info("event relay stopped", zap.Uint64("last_seq", last))
		}()
		defer func() {
			stopRelay()
			<-relayDone
			if err := publisher.Close(); err != nil {
				zlog.Error("failed to close kafka writer", zap.Error(err))
			}
		}()
		zlog.Info("relaying events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	// 7. UseCase 與 gRPC Adapter
	core := usecase.NewCoreUseCase(ledger, zlog)
	server := grpc_adapter.NewGrpcServer(core, bus, zlog)

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc_adapter.UnaryLoggingInterceptor(zlog)))
	grpc_adapter.RegisterLedgerServiceServer(s, server)
	if cfg.Server.Reflection {
		reflection.Register(s)
	}

	zlog.Info("starting gRPC server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("ledger", cfg.Ledger.Type),
		zap.String("journal", cfg.Journal.Type),
		zap.String("administrator", string(admin)),
	)
	return serve(ctx, s, lis, stopLedger, zlog)
}

// serve 直到 ctx 取消或 Serve 失敗
// 關閉順序: GracefulStop 等進行中的 RPC 完成後才呼叫 stopLedger
func serve(ctx context.Context, s *grpc.Server, lis net.Listener, stopLedger func(), zlog *zap.Logger) error {
	defer stopLedger()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(lis)
	}()

	// Graceful Shutdown
	select {
	case <-ctx.Done():
		zlog.Info("shutting down server")
		s.GracefulStop()
		return nil
	case err := <-serveErr:
		return err
	}
}

// newLedger 依設定建立帳本，回傳的 close 負責釋放日誌或資料庫
func newLedger(ctx context.Context, cfg Config, admin domain.Identity, policy domain.Policy,
	bus *memory_adapter.EventBus, payout usecase.Payout, zlog *zap.Logger,
) (usecase.Ledger, func(), error) {
	if cfg.Ledger.Type == LedgerTypeMySQL {
		client, err := mysql.NewClient(cfg.MySQL, zlog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MySQL: %w", err)
		}
		ledger := mysql_adapter.NewMySQLLedger(client,
			mysql_adapter.WithPayout(payout),
			mysql_adapter.WithEventPublisher(bus),
		)
		if err := ledger.Init(ctx, admin, policy); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		pending, err := ledger.PendingOperations(ctx)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		for _, op := range pending {
			zlog.Warn("withdrawal awaiting settlement, reconcile before retrying",
				zap.String("ref_id", op.OperationID.String()),
				zap.String("account", string(op.Caller)),
				zap.Stringer("amount", op.Amount),
			)
		}
		zlog.Info("connected to MySQL", zap.Int("pending_withdrawals", len(pending)))
		return ledger, func() { _ = client.Close() }, nil
	}

	journal, err := newJournal(cfg.Journal, zlog)
	if err != nil {
		return nil, nil, err
	}
	closeJournal := func() {
		if journal != nil {
			if err := journal.Close(); err != nil {
				zlog.Error("failed to close journal", zap.Error(err))
			}
		}
	}

	opts := []memory_adapter.Option{
		memory_adapter.WithPayout(payout),
		memory_adapter.WithEventPublisher(bus),
	}
	if journal != nil {
		opts = append(opts, memory_adapter.WithJournal(journal))
	}

	bank := domain.NewBank(admin, policy)
	var ledger usecase.Ledger
	switch cfg.Ledger.Type {
	case LedgerTypeMutex:
		ledger, err = memory_adapter.NewMutexLedger(bank, opts...)
	case LedgerTypeLMAX:
		var lmax *memory_adapter.LMAXLedger
		if lmax, err = memory_adapter.NewLMAXLedger(bank, opts...); err == nil {
			lmax.Start(ctx)
			ledger = lmax
		}
	}
	if err != nil {
		closeJournal()
		return nil, nil, fmt.Errorf("failed to init %s ledger: %w", cfg.Ledger.Type, err)
	}

	stats, err := ledger.GetStats(ctx)
	if err != nil {
		closeJournal()
		return nil, nil, err
	}
	zlog.Info("ledger recovered",
		zap.Stringer("total_deposits", stats.TotalDeposits),
		zap.Uint64("deposit_count", stats.DepositCount),
		zap.Uint64("withdrawal_count", stats.WithdrawalCount),
	)
	return ledger, closeJournal, nil
}

// newJournal none 時回傳 nil
func newJournal(cfg JournalConfig, zlog *zap.Logger) (usecase.Journal, error) {
	switch cfg.Type {
	case JournalWAL:
		opts := []wal.Option{wal.WithLogger(zlog)}
		if cfg.NoSync {
			opts = append(opts, wal.WithoutSync())
		}
		return wal.NewWAL(cfg.Path, opts...)
	case JournalSQLite:
		return sqljournal.NewSQLite(cfg.Path)
	case JournalPostgres:
		return sqljournal.NewPostgres(cfg.DSN)
	}
	return nil, nil
}
