package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
)

// CoreUseCase 是核心業務邏輯層
type CoreUseCase struct {
	ledger Ledger
	logger *zap.Logger
}

func NewCoreUseCase(ledger Ledger, logger *zap.Logger) *CoreUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoreUseCase{
		ledger: ledger,
		logger: logger,
	}
}

// Deposit 存款
//
// 參數:
//
//	ctx: 上下文
//	refID: 外部追蹤號，uuid.Nil 時自動產生
//	caller: 存款人
//	amount: 隨呼叫附帶的金額
//
// 回傳:
//
//	*domain.Operation: 成功的交易 (含 Sequence)
//	error: ExceedsBankCapError 等
func (c *CoreUseCase) Deposit(ctx context.Context, refID uuid.UUID, caller domain.Identity, amount domain.Quantity) (*domain.Operation, error) {
	return c.applyDeposit(ctx, refID, domain.NewDeposit(caller, amount))
}

// Receive 直接轉入 (沒有呼叫 deposit)，與 Deposit 完全相同的檢查與通知
func (c *CoreUseCase) Receive(ctx context.Context, refID uuid.UUID, caller domain.Identity, amount domain.Quantity) (*domain.Operation, error) {
	return c.applyDeposit(ctx, refID, domain.NewReceive(caller, amount))
}

func (c *CoreUseCase) applyDeposit(ctx context.Context, refID uuid.UUID, op *domain.Operation) (*domain.Operation, error) {
	return c.post(ctx, refID, op)
}

// Withdraw 提款
func (c *CoreUseCase) Withdraw(ctx context.Context, refID uuid.UUID, caller domain.Identity, amount domain.Quantity) (*domain.Operation, error) {
	return c.post(ctx, refID, domain.NewWithdraw(caller, amount))
}

func (c *CoreUseCase) post(ctx context.Context, refID uuid.UUID, op *domain.Operation) (*domain.Operation, error) {
	if refID != uuid.Nil {
		op.OperationID = refID
	}
	if err := c.ledger.PostOperation(ctx, op); err != nil {
		c.logger.Info("operation rejected",
			zap.Stringer("type", op.Type),
			zap.String("via", op.Via),
			zap.String("caller", string(op.Caller)),
			zap.Stringer("amount", op.Amount),
			zap.Stringer("ref_id", op.OperationID),
			zap.Error(err),
		)
		return nil, err
	}
	c.logger.Debug("operation committed",
		zap.Uint64("seq", op.Sequence),
		zap.Stringer("type", op.Type),
		zap.String("via", op.Via),
		zap.String("caller", string(op.Caller)),
		zap.Stringer("amount", op.Amount),
	)
	return op, nil
}

// BalanceOf 取得帳戶餘額
func (c *CoreUseCase) BalanceOf(ctx context.Context, id domain.Identity) (domain.Quantity, error) {
	return c.ledger.GetAccountBalance(ctx, id)
}

// Stats 取得帳本快照
func (c *CoreUseCase) Stats(ctx context.Context) (domain.Stats, error) {
	return c.ledger.GetStats(ctx)
}

func (c *CoreUseCase) TotalDeposits(ctx context.Context) (domain.Quantity, error) {
	s, err := c.ledger.GetStats(ctx)
	return s.TotalDeposits, err
}

func (c *CoreUseCase) TotalWithdrawals(ctx context.Context) (domain.Quantity, error) {
	s, err := c.ledger.GetStats(ctx)
	return s.TotalWithdrawals, err
}

func (c *CoreUseCase) DepositCount(ctx context.Context) (uint64, error) {
	s, err := c.ledger.GetStats(ctx)
	return s.DepositCount, err
}

func (c *CoreUseCase) WithdrawalCount(ctx context.Context) (uint64, error) {
	s, err := c.ledger.GetStats(ctx)
	return s.WithdrawalCount, err
}

func (c *CoreUseCase) WithdrawalLimit(ctx context.Context) (domain.Quantity, error) {
	s, err := c.ledger.GetStats(ctx)
	return s.WithdrawalLimit, err
}

func (c *CoreUseCase) BankCap(ctx context.Context) (domain.Quantity, error) {
	s, err := c.ledger.GetStats(ctx)
	return s.BankCap, err
}

func (c *CoreUseCase) Administrator(ctx context.Context) (domain.Identity, error) {
	s, err := c.ledger.GetStats(ctx)
	return s.Administrator, err
}
