package mysql

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
	"github.com/JoeShih716/go-kipu-bank/pkg/mysql"
)

// 單一帳本，bank_state 只有一列
const bankStateID = 1

// operations.status
const (
	// 已完成 (存款，或撥付成功的提款)
	statusSettled = "settled"
	// 提款已扣款、撥付結果未確認
	statusPending = "pending"
)

// errAlreadyProcessed 交易已存在，讓 Transaction 回滾但對外回傳成功
var errAlreadyProcessed = errors.New("operation already processed")

// sqlBankState 對應資料庫的 bank_state 表 (總額、計數與建構參數)
//
// 不變量: sum(balances) + PendingWithdrawals = TotalDeposits
type sqlBankState struct {
	ID                 int64           `gorm:"primaryKey"`
	Administrator      string          `gorm:"size:128"`
	WithdrawalLimit    decimal.Decimal `gorm:"type:decimal(65,18)"`
	BankCap            decimal.Decimal `gorm:"type:decimal(65,18)"`
	TotalDeposits      decimal.Decimal `gorm:"type:decimal(65,18)"`
	TotalWithdrawals   decimal.Decimal `gorm:"type:decimal(65,18)"`
	PendingWithdrawals decimal.Decimal `gorm:"type:decimal(65,18)"` // 已扣款、尚未撥付完成
	DepositCount       uint64
	WithdrawalCount    uint64
	UpdatedAt          int64 `gorm:"autoUpdateTime:milli"` // 自動更新時間
}

func (*sqlBankState) TableName() string {
	return "bank_state"
}

func (s *sqlBankState) policy() domain.Policy {
	return domain.Policy{WithdrawalLimit: s.WithdrawalLimit, BankCap: s.BankCap}
}

// sqlBalance 對應資料庫的 balances 表
type sqlBalance struct {
	Identity  string          `gorm:"primaryKey;size:128"`
	Balance   decimal.Decimal `gorm:"type:decimal(65,18)"`
	UpdatedAt int64           `gorm:"autoUpdateTime:milli"`
}

func (*sqlBalance) TableName() string {
	return "balances"
}

// sqlOperation 對應資料庫的 operations 表，ID 即為帳本序號
type sqlOperation struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	RefID     []byte `gorm:"column:ref_id;type:binary(16);uniqueIndex"` // 對應 domain.Operation.OperationID
	Type      uint8
	Via       string          `gorm:"size:16"`
	Caller    string          `gorm:"size:128;index"`
	Amount    decimal.Decimal `gorm:"type:decimal(65,18)"`
	Status    string          `gorm:"size:16;index;default:settled"`
	CreatedAt int64           `gorm:"autoCreateTime:milli"` // 自動寫入時間
}

func (*sqlOperation) TableName() string {
	return "operations"
}

func (r *sqlOperation) toOperation() (*domain.Operation, error) {
	id, err := uuid.FromBytes(r.RefID)
	if err != nil {
		return nil, fmt.Errorf("invalid ref_id on operation %d: %w", r.ID, err)
	}
	return &domain.Operation{
		Sequence:    uint64(r.ID),
		OperationID: id,
		Caller:      domain.Identity(r.Caller),
		Amount:      r.Amount,
		Via:         r.Via,
		Type:        domain.OperationType(r.Type),
	}, nil
}

// checkRetry 同一個 ref_id 再次送入
// 內容一致時帶回原本的序號，未結清的提款回傳 ErrSettlementPending
func (r *sqlOperation) checkRetry(op *domain.Operation) error {
	committed, err := r.toOperation()
	if err != nil {
		return err
	}
	if err := committed.CheckRetry(op); err != nil {
		return err
	}
	if r.Status == statusPending {
		op.Sequence = 0
		return fmt.Errorf("%w: %s", domain.ErrSettlementPending, committed.OperationID)
	}
	return nil
}

// reserveState 檢查並套用到已鎖定的狀態
// 存款直接完成；提款只扣餘額並記在 PendingWithdrawals，總額與計數等撥付成功才更新
func reserveState(state *sqlBankState, balance *sqlBalance, op *domain.Operation) error {
	policy := state.policy()
	switch op.Type {
	case domain.OperationTypeDeposit:
		// PendingWithdrawals 仍算在 TotalDeposits 內，撥付失敗退回也不會超過上限
		if err := policy.CheckDeposit(state.TotalDeposits, op.Amount); err != nil {
			return err
		}
		balance.Balance = balance.Balance.Add(op.Amount)
		state.TotalDeposits = state.TotalDeposits.Add(op.Amount)
		state.DepositCount++
	case domain.OperationTypeWithdraw:
		if err := policy.CheckWithdraw(balance.Balance, op.Amount); err != nil {
			return err
		}
		balance.Balance = balance.Balance.Sub(op.Amount)
		state.PendingWithdrawals = state.PendingWithdrawals.Add(op.Amount)
	default:
		return domain.ErrUnknownOperation
	}
	return nil
}

// settleState 撥付成功，提款正式生效
func settleState(state *sqlBankState, amount domain.Quantity) {
	state.PendingWithdrawals = state.PendingWithdrawals.Sub(amount)
	state.TotalDeposits = state.TotalDeposits.Sub(amount)
	state.TotalWithdrawals = state.TotalWithdrawals.Add(amount)
	state.WithdrawalCount++
}

// releaseState 撥付失敗，退回扣款
func releaseState(state *sqlBankState, balance *sqlBalance, amount domain.Quantity) {
	state.PendingWithdrawals = state.PendingWithdrawals.Sub(amount)
	balance.Balance = balance.Balance.Add(amount)
}

// Option 設定 MySQLLedger
type Option func(*MySQLLedger)

func WithPayout(payout usecase.Payout) Option {
	return func(l *MySQLLedger) {
		l.payout = payout
	}
}

func WithEventPublisher(publisher usecase.EventPublisher) Option {
	return func(l *MySQLLedger) {
		l.events = publisher
	}
}

// MySQLLedger Level 0：所有狀態都在 MySQL
// 跨行程以 bank_state 的悲觀鎖序列化，行程內再用 mu 保證通知順序
//
// 提款分兩段 Transaction：先扣款並標記 pending，撥付後再結清或退回。
// 撥付永遠發生在扣款 COMMIT 之後。
type MySQLLedger struct {
	client *mysql.Client
	mu     sync.Mutex
	payout usecase.Payout
	events usecase.EventPublisher
}

func NewMySQLLedger(client *mysql.Client, opts ...Option) *MySQLLedger {
	ledger := &MySQLLedger{
		client: client,
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

// Init 建表並寫入建構參數
// 已存在的帳本參數不可變更，與設定不同時回傳 ErrInvalidConfig
func (ledger *MySQLLedger) Init(ctx context.Context, administrator domain.Identity, policy domain.Policy) error {
	db := ledger.client.DB().WithContext(ctx)
	if err := db.AutoMigrate(&sqlBankState{}, &sqlBalance{}, &sqlOperation{}); err != nil {
		return fmt.Errorf("migrate ledger tables: %w", err)
	}

	state := sqlBankState{
		ID:                 bankStateID,
		Administrator:      string(administrator),
		WithdrawalLimit:    policy.WithdrawalLimit,
		BankCap:            policy.BankCap,
		TotalDeposits:      decimal.Zero,
		TotalWithdrawals:   decimal.Zero,
		PendingWithdrawals: decimal.Zero,
	}
	if err := db.Where(sqlBankState{ID: bankStateID}).FirstOrCreate(&state).Error; err != nil {
		return fmt.Errorf("init bank state: %w", err)
	}
	if !state.WithdrawalLimit.Equal(policy.WithdrawalLimit) || !state.BankCap.Equal(policy.BankCap) {
		return fmt.Errorf("%w: stored limits (%s, %s) differ from configured (%s, %s)",
			domain.ErrInvalidConfig, state.WithdrawalLimit, state.BankCap, policy.WithdrawalLimit, policy.BankCap)
	}
	return nil
}

// PendingOperations 撥付結果未確認的提款 (行程中斷時留下)，需要人工對帳
func (ledger *MySQLLedger) PendingOperations(ctx context.Context) ([]*domain.Operation, error) {
	var records []sqlOperation
	if err := ledger.client.DB().WithContext(ctx).
		Where("status = ?", statusPending).Order("id").Find(&records).Error; err != nil {
		return nil, err
	}
	ops := make([]*domain.Operation, 0, len(records))
	for i := range records {
		op, err := records[i].toOperation()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// PostOperation 檢查並提交交易
//
// 存款: 單一 Transaction
// 提款: 扣款 (pending) -> COMMIT -> 撥付 -> 結清，撥付失敗時退回扣款
func (ledger *MySQLLedger) PostOperation(ctx context.Context, op *domain.Operation) error {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	err := ledger.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return ledger.reserve(tx, op)
	})
	if errors.Is(err, errAlreadyProcessed) {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 其他行程剛寫入同一個 ref_id
		return ledger.resolveRetry(ctx, op)
	}
	if err != nil {
		return err
	}

	if op.Type == domain.OperationTypeWithdraw {
		if err := ledger.settle(ctx, op); err != nil {
			return err
		}
	}

	if ledger.events != nil {
		ledger.events.Publish(domain.EventFor(op))
	}
	return nil
}

// reserve 第一段 Transaction
func (ledger *MySQLLedger) reserve(tx *gorm.DB, op *domain.Operation) error {
	// 鎖定帳本狀態 (悲觀鎖)，之後的查詢不會與其他寫入者交錯
	state, err := lockState(tx)
	if err != nil {
		return err
	}

	// 檢查是否有這筆交易記錄
	var existing sqlOperation
	err = tx.Where("ref_id = ?", op.OperationID[:]).First(&existing).Error
	if err == nil {
		if err := existing.checkRetry(op); err != nil {
			return err
		}
		return errAlreadyProcessed
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrSelectOperationFailed, err)
	}

	balance, err := lockBalance(tx, op.Caller)
	if err != nil {
		return err
	}
	if err := reserveState(state, balance, op); err != nil {
		return err
	}

	if err := tx.Save(balance).Error; err != nil {
		return err
	}
	if err := tx.Save(state).Error; err != nil {
		return err
	}
	record := sqlOperation{
		RefID:  op.OperationID[:],
		Type:   uint8(op.Type),
		Via:    op.Via,
		Caller: string(op.Caller),
		Amount: op.Amount,
		Status: statusSettled,
	}
	if op.Type == domain.OperationTypeWithdraw {
		record.Status = statusPending
	}
	if err := tx.Create(&record).Error; err != nil {
		return err
	}
	op.Sequence = uint64(record.ID)
	return nil
}

// settle 撥付並結清提款
// 結清與退回不受呼叫端取消影響，避免留下 pending
func (ledger *MySQLLedger) settle(ctx context.Context, op *domain.Operation) error {
	finishCtx := context.WithoutCancel(ctx)
	if ledger.payout != nil {
		if err := ledger.payout.Pay(ctx, op.Caller, op.Amount); err != nil {
			payoutErr := fmt.Errorf("%w: %w", domain.ErrPayoutFailed, err)
			if rerr := ledger.finish(finishCtx, op, false); rerr != nil {
				return errors.Join(payoutErr,
					fmt.Errorf("%w: release %s: %v", domain.ErrSettlementPending, op.OperationID, rerr))
			}
			op.Sequence = 0
			return payoutErr
		}
	}
	if err := ledger.finish(finishCtx, op, true); err != nil {
		return fmt.Errorf("%w: settle %s: %v", domain.ErrSettlementPending, op.OperationID, err)
	}
	return nil
}

// finish 第二段 Transaction，paid=false 時退回扣款並刪除紀錄
func (ledger *MySQLLedger) finish(ctx context.Context, op *domain.Operation, paid bool) error {
	return ledger.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := lockState(tx)
		if err != nil {
			return err
		}
		var record sqlOperation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("ref_id = ? AND status = ?", op.OperationID[:], statusPending).
			First(&record).Error; err != nil {
			return fmt.Errorf("lock pending operation: %w", err)
		}

		if paid {
			settleState(state, record.Amount)
			if err := tx.Model(&record).Update("status", statusSettled).Error; err != nil {
				return err
			}
			return tx.Save(state).Error
		}

		balance, err := lockBalance(tx, domain.Identity(record.Caller))
		if err != nil {
			return err
		}
		releaseState(state, balance, record.Amount)
		if err := tx.Delete(&record).Error; err != nil {
			return err
		}
		if err := tx.Save(balance).Error; err != nil {
			return err
		}
		return tx.Save(state).Error
	})
}

// resolveRetry 插入時撞到 ref_id 唯一索引，以既有紀錄回應
func (ledger *MySQLLedger) resolveRetry(ctx context.Context, op *domain.Operation) error {
	var existing sqlOperation
	if err := ledger.client.DB().WithContext(ctx).
		Where("ref_id = ?", op.OperationID[:]).First(&existing).Error; err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSelectOperationFailed, err)
	}
	return existing.checkRetry(op)
}

func lockState(tx *gorm.DB) (*sqlBankState, error) {
	var state sqlBankState
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&state, bankStateID).Error; err != nil {
		return nil, fmt.Errorf("lock bank state: %w", err)
	}
	return &state, nil
}

// lockBalance 沒有紀錄時回傳餘額 0 的新帳戶
func lockBalance(tx *gorm.DB, id domain.Identity) (*sqlBalance, error) {
	balance := sqlBalance{Identity: string(id), Balance: decimal.Zero}
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("identity = ?", string(id)).
		First(&balance).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	return &balance, nil
}

// GetAccountBalance 取得帳戶餘額，沒有紀錄時為 0
func (ledger *MySQLLedger) GetAccountBalance(ctx context.Context, id domain.Identity) (domain.Quantity, error) {
	var balance sqlBalance
	err := ledger.client.DB().WithContext(ctx).Where("identity = ?", string(id)).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Zero, nil
	}
	if err != nil {
		return domain.Zero, err
	}
	return balance.Balance, nil
}

// GetStats 取得帳本快照
func (ledger *MySQLLedger) GetStats(ctx context.Context) (domain.Stats, error) {
	var state sqlBankState
	if err := ledger.client.DB().WithContext(ctx).First(&state, bankStateID).Error; err != nil {
		return domain.Stats{}, err
	}
	return state.toStats(), nil
}

func (s *sqlBankState) toStats() domain.Stats {
	return domain.Stats{
		Administrator:    domain.Identity(s.Administrator),
		WithdrawalLimit:  s.WithdrawalLimit,
		BankCap:          s.BankCap,
		TotalDeposits:    s.TotalDeposits,
		TotalWithdrawals: s.TotalWithdrawals,
		DepositCount:     s.DepositCount,
		WithdrawalCount:  s.WithdrawalCount,
	}
}

var _ usecase.Ledger = (*MySQLLedger)(nil)
