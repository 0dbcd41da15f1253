//go:build integration

package mysql

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
	"github.com/JoeShih716/go-kipu-bank/pkg/mysql"
)

// 執行: LEDGER_TEST_MYSQL_HOST=127.0.0.1 go test -tags integration ./internal/app/core/adapter/out/mysql/
// 測試會清空 LEDGER_TEST_MYSQL_DBNAME (預設 kipu_bank_test) 內的帳本表
func newTestClient(t *testing.T) *mysql.Client {
	t.Helper()
	host := os.Getenv("LEDGER_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("LEDGER_TEST_MYSQL_HOST not set")
	}
	cfg := mysql.Config{
		Host:       host,
		User:       envOr("LEDGER_TEST_MYSQL_USER", "root"),
		Password:   envOr("LEDGER_TEST_MYSQL_PASSWORD", "root"),
		DBName:     envOr("LEDGER_TEST_MYSQL_DBNAME", "kipu_bank_test"),
		MaxRetries: 1,
		LogLevel:   "silent",
	}
	if port, err := strconv.Atoi(os.Getenv("LEDGER_TEST_MYSQL_PORT")); err == nil {
		cfg.Port = port
	}
	client, err := mysql.NewClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, client.DB().Migrator().DropTable(&sqlOperation{}, &sqlBalance{}, &sqlBankState{}))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestLedger(t *testing.T, client *mysql.Client, opts ...Option) *MySQLLedger {
	t.Helper()
	policy, err := domain.NewPolicy(q("5"), q("100"))
	require.NoError(t, err)
	l := NewMySQLLedger(client, opts...)
	require.NoError(t, l.Init(context.Background(), "0xadmin", policy))
	return l
}

func mustBalance(t *testing.T, l *MySQLLedger, id domain.Identity) string {
	t.Helper()
	b, err := l.GetAccountBalance(context.Background(), id)
	require.NoError(t, err)
	return b.String()
}

func mustStats(t *testing.T, l *MySQLLedger) domain.Stats {
	t.Helper()
	s, err := l.GetStats(context.Background())
	require.NoError(t, err)
	return s
}

func TestMySQLLedger_InitRejectsChangedLimits(t *testing.T) {
	client := newTestClient(t)
	newTestLedger(t, client)

	policy, err := domain.NewPolicy(q("6"), q("100"))
	require.NoError(t, err)
	err = NewMySQLLedger(client).Init(context.Background(), "0xadmin", policy)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestMySQLLedger_Scenarios(t *testing.T) {
	client := newTestClient(t)
	pub := &recordingPublisher{}
	l := newTestLedger(t, client, WithEventPublisher(pub))
	ctx := context.Background()

	err := l.PostOperation(ctx, domain.NewDeposit("0xA", q("101")))
	var capErr *domain.ExceedsBankCapError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "101", capErr.AttemptedTotal.String())

	err = l.PostOperation(ctx, domain.NewWithdraw("0xA", q("5.1")))
	assert.ErrorIs(t, err, domain.ErrExceedsWithdrawalLimit)

	require.NoError(t, l.PostOperation(ctx, domain.NewDeposit("0xA", q("1"))))
	err = l.PostOperation(ctx, domain.NewWithdraw("0xA", q("2")))
	var balErr *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, "1", balErr.Available.String())

	require.NoError(t, l.PostOperation(ctx, domain.NewReceive("0xA", q("3"))))
	require.NoError(t, l.PostOperation(ctx, domain.NewWithdraw("0xA", q("2.5"))))

	assert.Equal(t, "1.5", mustBalance(t, l, "0xA"))
	s := mustStats(t, l)
	assert.Equal(t, "1.5", s.TotalDeposits.String())
	assert.Equal(t, "2.5", s.TotalWithdrawals.String())
	assert.Equal(t, uint64(2), s.DepositCount)
	assert.Equal(t, uint64(1), s.WithdrawalCount)
	assert.Equal(t, 3, pub.len())
}

func TestMySQLLedger_PayoutFailureReleasesDebit(t *testing.T) {
	client := newTestClient(t)
	broken := errors.New("recipient rejected transfer")
	fail := true
	payout := usecase.PayoutFunc(func(context.Context, domain.Identity, domain.Quantity) error {
		if fail {
			return broken
		}
		return nil
	})
	pub := &recordingPublisher{}
	l := newTestLedger(t, client, WithPayout(payout), WithEventPublisher(pub))
	ctx := context.Background()

	require.NoError(t, l.PostOperation(ctx, domain.NewDeposit("0xA", q("3"))))
	before := mustStats(t, l)

	op := domain.NewWithdraw("0xA", q("2"))
	err := l.PostOperation(ctx, op)
	assert.ErrorIs(t, err, domain.ErrPayoutFailed)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, "3", mustBalance(t, l, "0xA"))
	assert.Equal(t, before.TotalDeposits.String(), mustStats(t, l).TotalDeposits.String())
	assert.Equal(t, before.WithdrawalCount, mustStats(t, l).WithdrawalCount)
	assert.Equal(t, 1, pub.len())

	pending, err := l.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// 同一個 ID 可以重試
	fail = false
	retry := domain.NewWithdraw("0xA", q("2"))
	retry.OperationID = op.OperationID
	require.NoError(t, l.PostOperation(ctx, retry))
	assert.Equal(t, "1", mustBalance(t, l, "0xA"))
	assert.Equal(t, uint64(1), mustStats(t, l).WithdrawalCount)
}

func TestMySQLLedger_IdempotentRetry(t *testing.T) {
	client := newTestClient(t)
	l := newTestLedger(t, client)
	ctx := context.Background()

	op := domain.NewDeposit("0xA", q("2"))
	require.NoError(t, l.PostOperation(ctx, op))

	dup := domain.NewDeposit("0xA", q("2"))
	dup.OperationID = op.OperationID
	require.NoError(t, l.PostOperation(ctx, dup))
	assert.Equal(t, op.Sequence, dup.Sequence)

	conflict := domain.NewWithdraw("0xA", q("1"))
	conflict.OperationID = op.OperationID
	assert.ErrorIs(t, l.PostOperation(ctx, conflict), domain.ErrRefIDConflict)

	assert.Equal(t, "2", mustBalance(t, l, "0xA"))
	assert.Equal(t, uint64(1), mustStats(t, l).DepositCount)
}

// 兩個 MySQLLedger 模擬兩個行程同時送出同一個 ref_id
func TestMySQLLedger_CrossProcessRetry(t *testing.T) {
	client := newTestClient(t)
	a := newTestLedger(t, client)
	b := NewMySQLLedger(client)
	ctx := context.Background()

	op := domain.NewDeposit("0xA", q("2"))
	ops := []*domain.Operation{op, {}}
	*ops[1] = *op
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, l := range []*MySQLLedger{a, b} {
		wg.Add(1)
		go func(i int, l *MySQLLedger) {
			defer wg.Done()
			errs[i] = l.PostOperation(ctx, ops[i])
		}(i, l)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, ops[0].Sequence, ops[1].Sequence)
	assert.Equal(t, "2", mustBalance(t, a, "0xA"))
	assert.Equal(t, uint64(1), mustStats(t, a).DepositCount)
}

func TestMySQLLedger_ConcurrentDepositsRespectCap(t *testing.T) {
	client := newTestClient(t)
	l := newTestLedger(t, client)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.PostOperation(ctx, domain.NewDeposit("0xA", q("4")))
		}()
	}
	wg.Wait()

	s := mustStats(t, l)
	assert.Equal(t, "100", s.TotalDeposits.String())
	assert.Equal(t, uint64(25), s.DepositCount)
	assert.Equal(t, "100", mustBalance(t, l, "0xA"))
}
