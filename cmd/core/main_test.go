package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	grpc_adapter "github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/in/grpc"
	memory_adapter "github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
)

// 關機時進行中的存款必須由 LMAX 處理完，而不是拿到 ledger stopped
func TestServe_InFlightRequestCompletesOnShutdown(t *testing.T) {
	policy, err := domain.NewPolicy(domain.MustQuantity("5"), domain.MustQuantity("100"))
	require.NoError(t, err)
	wallet := memory_adapter.NewWallet()
	lmax, err := memory_adapter.NewLMAXLedger(domain.NewBank("0xowner", policy), memory_adapter.WithPayout(wallet))
	require.NoError(t, err)

	ledgerCtx, stopLedger := context.WithCancel(context.Background())
	defer stopLedger()
	lmax.Start(ledgerCtx)

	// 攔截器把請求卡住，模擬關機訊號到達時正在處理的 RPC
	entered := make(chan struct{})
	release := make(chan struct{})
	hold := func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		close(entered)
		<-release
		return handler(ctx, req)
	}

	bus := memory_adapter.NewEventBus(0)
	defer bus.Close()
	zlog := zap.NewNop()
	s := grpc.NewServer(grpc.UnaryInterceptor(hold))
	grpc_adapter.RegisterLedgerServiceServer(s, grpc_adapter.NewGrpcServer(usecase.NewCoreUseCase(lmax, zlog), bus, zlog))

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- serve(ctx, s, lis, stopLedger, zlog) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	type result struct {
		receipt *grpc_adapter.Receipt
		err     error
	}
	deposited := make(chan result, 1)
	go func() {
		r, err := grpc_adapter.NewClient(conn, "0xA").Deposit(context.Background(), uuid.New(), domain.MustQuantity("3"))
		deposited <- result{r, err}
	}()

	<-entered
	cancel()
	// 讓 GracefulStop 先開始等待
	time.Sleep(50 * time.Millisecond)
	close(release)

	res := <-deposited
	require.NoError(t, res.err)
	assert.Equal(t, uint64(1), res.receipt.Sequence)
	assert.True(t, res.receipt.Balance.Equal(domain.MustQuantity("3")))

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after shutdown")
	}

	// serve 回傳後帳本才停止
	require.Eventually(t, func() bool {
		_, err := lmax.GetStats(context.Background())
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)
	_, err = lmax.GetStats(context.Background())
	assert.ErrorIs(t, err, memory_adapter.ErrLedgerStopped)
}
