package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
)

var q = domain.MustQuantity

type testEnv struct {
	conn   *grpc.ClientConn
	bus    *memory.EventBus
	wallet *memory.Wallet
}

func (e *testEnv) client(caller domain.Identity) *Client {
	return NewClient(e.conn, caller)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	policy, err := domain.NewPolicy(q("5"), q("100"))
	require.NoError(t, err)

	bus := memory.NewEventBus(16)
	wallet := memory.NewWallet()
	ledger, err := memory.NewMutexLedger(domain.NewBank("0xowner", policy),
		memory.WithEventPublisher(bus),
		memory.WithPayout(wallet),
	)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	core := usecase.NewCoreUseCase(ledger, logger)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLoggingInterceptor(logger)))
	RegisterLedgerServiceServer(srv, NewGrpcServer(core, bus, logger))
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
		bus.Close()
	})
	return &testEnv{conn: conn, bus: bus, wallet: wallet}
}

func TestServer_DepositAndWithdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.client("0xA")

	r, err := alice.Deposit(ctx, uuid.Nil, q("10"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Sequence)
	assert.True(t, r.Balance.Equal(q("10")))

	r, err = alice.Withdraw(ctx, uuid.Nil, q("4"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Sequence)
	assert.True(t, r.Balance.Equal(q("6")))
	assert.True(t, env.wallet.PaidTo("0xA").Equal(q("4")))

	bal, err := env.client("0xB").Balance(ctx, "0xA")
	require.NoError(t, err)
	assert.True(t, bal.Equal(q("6")))

	stats, err := alice.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("0xowner"), stats.Administrator)
	assert.True(t, stats.TotalDeposits.Equal(q("6")))
	assert.True(t, stats.TotalWithdrawals.Equal(q("4")))
	assert.Equal(t, uint64(1), stats.DepositCount)
	assert.Equal(t, uint64(1), stats.WithdrawalCount)
	assert.True(t, stats.WithdrawalLimit.Equal(q("5")))
	assert.True(t, stats.BankCap.Equal(q("100")))
}

func TestServer_ReceiveMatchesDeposit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client("0xA").Receive(ctx, uuid.Nil, q("3"))
	require.NoError(t, err)

	events := env.bus.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventDeposited, events[0].Kind)
	assert.Equal(t, domain.Identity("0xA"), events[0].Account)
}

func TestServer_BusinessErrorsRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.client("0xA")

	_, err := alice.Deposit(ctx, uuid.Nil, q("101"))
	var capErr *domain.ExceedsBankCapError
	require.ErrorAs(t, err, &capErr)
	assert.True(t, capErr.AttemptedTotal.Equal(q("101")))
	assert.True(t, capErr.Cap.Equal(q("100")))

	_, err = alice.Withdraw(ctx, uuid.Nil, q("5.1"))
	var limitErr *domain.ExceedsWithdrawalLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.True(t, limitErr.Requested.Equal(q("5.1")))
	assert.True(t, limitErr.Limit.Equal(q("5")))

	_, err = alice.Deposit(ctx, uuid.Nil, q("1"))
	require.NoError(t, err)
	_, err = alice.Withdraw(ctx, uuid.Nil, q("2"))
	var balErr *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.True(t, balErr.Available.Equal(q("1")))
	assert.True(t, balErr.Requested.Equal(q("2")))
}

func TestServer_InvalidArguments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client("").Deposit(ctx, uuid.Nil, q("1"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	req, _ := structpb.NewStruct(map[string]any{"caller": "0xA", "amount": "-1"})
	resp := new(structpb.Struct)
	require.NoError(t, env.conn.Invoke(ctx, MethodDeposit, req, resp))
	assert.False(t, resp.GetFields()["success"].GetBoolValue())
	assert.Equal(t, KindInvalidArgument, stringField(resp.GetFields()["error"].GetStructValue(), "kind"))

	req, _ = structpb.NewStruct(map[string]any{"caller": "0xA", "amount": "1", "ref_id": "not-a-uuid"})
	require.NoError(t, env.conn.Invoke(ctx, MethodDeposit, req, resp))
	assert.False(t, resp.GetFields()["success"].GetBoolValue())

	_, err = env.client("0xA").Balance(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_CallerFieldFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, _ := structpb.NewStruct(map[string]any{"caller": "0xC", "amount": "2"})
	resp := new(structpb.Struct)
	require.NoError(t, env.conn.Invoke(ctx, MethodDeposit, req, resp))
	assert.True(t, resp.GetFields()["success"].GetBoolValue())

	bal, err := env.client("").Balance(ctx, "0xC")
	require.NoError(t, err)
	assert.True(t, bal.Equal(q("2")))
}

func TestServer_IdempotentRefID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.client("0xA")
	ref := uuid.New()

	first, err := alice.Deposit(ctx, ref, q("2"))
	require.NoError(t, err)
	retry, err := alice.Deposit(ctx, ref, q("2"))
	require.NoError(t, err)
	assert.Equal(t, first.Sequence, retry.Sequence)
	assert.Equal(t, ref, retry.RefID)

	bal, err := alice.Balance(ctx, "0xA")
	require.NoError(t, err)
	assert.True(t, bal.Equal(q("2")))
}

func TestServer_RefIDReusedForDifferentOperation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.client("0xA")
	ref := uuid.New()

	_, err := alice.Deposit(ctx, ref, q("3"))
	require.NoError(t, err)

	_, err = alice.Withdraw(ctx, ref, q("2"))
	assert.ErrorIs(t, err, domain.ErrRefIDConflict)

	bal, err := alice.Balance(ctx, "0xA")
	require.NoError(t, err)
	assert.True(t, bal.Equal(q("3")))
	assert.True(t, env.wallet.PaidTo("0xA").IsZero())
	assert.Len(t, env.bus.Events(), 1)
}

func TestServer_Watch(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	alice := env.client("0xA")

	_, err := alice.Deposit(ctx, uuid.Nil, q("3"))
	require.NoError(t, err)

	stop := errors.New("stop")
	var got []domain.Event
	done := make(chan error, 1)
	go func() {
		done <- alice.Watch(ctx, 0, func(e domain.Event) error {
			got = append(got, e)
			if len(got) == 2 {
				return stop
			}
			return nil
		})
	}()

	_, err = alice.Withdraw(ctx, uuid.Nil, q("1"))
	require.NoError(t, err)

	require.ErrorIs(t, <-done, stop)
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventDeposited, got[0].Kind)
	assert.Equal(t, uint64(1), got[0].Sequence)
	assert.Equal(t, domain.EventWithdrawn, got[1].Kind)
	assert.True(t, got[1].Amount.Equal(q("1")))
	assert.NotEqual(t, uuid.Nil, got[1].OperationID)
}

func TestErrorDetail_NonBusiness(t *testing.T) {
	assert.Nil(t, errorDetail(errors.New("disk full")))
	assert.Equal(t, KindPayoutFailed, errorDetail(domain.ErrPayoutFailed)["kind"])

	detail, err := structpb.NewStruct(map[string]any{"kind": KindPayoutFailed})
	require.NoError(t, err)
	assert.ErrorIs(t, errorFromDetail(detail, "payout failed"), domain.ErrPayoutFailed)
	assert.NotErrorIs(t, errorFromDetail(nil, "unknown"), domain.ErrPayoutFailed)
}
