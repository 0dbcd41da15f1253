package domain

import (
	"fmt"
	"sort"
)

// Stats 帳本的唯讀快照
type Stats struct {
	Administrator    Identity
	WithdrawalLimit  Quantity
	BankCap          Quantity
	TotalDeposits    Quantity // 目前保管中的總額 (存款減提款)
	TotalWithdrawals Quantity // 累計提款總額
	DepositCount     uint64
	WithdrawalCount  uint64
}

// Bank 帳本聚合 (Aggregate Root)：所有餘額與計數器
// 本身不是 thread-safe，由外層 Ledger 負責互斥
type Bank struct {
	administrator    Identity
	policy           Policy
	accounts         map[Identity]*Account
	totalDeposits    Quantity
	totalWithdrawals Quantity
	depositCount     uint64
	withdrawalCount  uint64
}

// NewBank 建立空白帳本，administrator 綁定建立者
func NewBank(administrator Identity, policy Policy) *Bank {
	return &Bank{
		administrator:    administrator,
		policy:           policy,
		accounts:         make(map[Identity]*Account),
		totalDeposits:    Zero,
		totalWithdrawals: Zero,
	}
}

// Validate 只做檢查不變更狀態
func (b *Bank) Validate(op *Operation) error {
	switch op.Type {
	case OperationTypeDeposit:
		return b.policy.CheckDeposit(b.totalDeposits, op.Amount)
	case OperationTypeWithdraw:
		return b.policy.CheckWithdraw(b.BalanceOf(op.Caller), op.Amount)
	default:
		return ErrUnknownOperation
	}
}

// Apply 檢查後套用一筆交易，失敗時不會有任何變更
func (b *Bank) Apply(op *Operation) error {
	if err := b.Validate(op); err != nil {
		return err
	}
	switch op.Type {
	case OperationTypeDeposit:
		b.applyDeposit(op.Caller, op.Amount)
	case OperationTypeWithdraw:
		b.applyWithdraw(op.Caller, op.Amount)
	}
	return nil
}

// applyDeposit deposit 與 receive 共用
func (b *Bank) applyDeposit(caller Identity, amount Quantity) {
	account, ok := b.accounts[caller]
	if !ok {
		account = NewAccount(caller, Zero)
		b.accounts[caller] = account
	}
	// Validate 已確認金額非負
	_ = account.Credit(amount)
	b.totalDeposits = b.totalDeposits.Add(amount)
	b.depositCount++
}

func (b *Bank) applyWithdraw(caller Identity, amount Quantity) {
	account := b.accounts[caller]
	if account == nil {
		// 只有 amount == 0 才會走到這裡
		account = NewAccount(caller, Zero)
		b.accounts[caller] = account
	}
	_ = account.Debit(amount)
	b.totalDeposits = b.totalDeposits.Sub(amount)
	b.totalWithdrawals = b.totalWithdrawals.Add(amount)
	b.withdrawalCount++
}

// BalanceOf 未存款過的帳戶餘額為 0
func (b *Bank) BalanceOf(id Identity) Quantity {
	if account, ok := b.accounts[id]; ok {
		return account.Balance
	}
	return Zero
}

func (b *Bank) Administrator() Identity { return b.administrator }

func (b *Bank) Policy() Policy { return b.policy }

// Stats 回傳目前快照
func (b *Bank) Stats() Stats {
	return Stats{
		Administrator:    b.administrator,
		WithdrawalLimit:  b.policy.WithdrawalLimit,
		BankCap:          b.policy.BankCap,
		TotalDeposits:    b.totalDeposits,
		TotalWithdrawals: b.totalWithdrawals,
		DepositCount:     b.depositCount,
		WithdrawalCount:  b.withdrawalCount,
	}
}

// Accounts 回傳帳戶的值拷貝，依 ID 排序
func (b *Bank) Accounts() []Account {
	out := make([]Account, 0, len(b.accounts))
	for _, a := range b.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Audit 驗證帳本不變量：餘額非負、總額等於餘額加總、總額不超過上限
func (b *Bank) Audit() error {
	sum := Zero
	for id, a := range b.accounts {
		if a.Balance.IsNegative() {
			return fmt.Errorf("account %s has negative balance %s", id, a.Balance)
		}
		sum = sum.Add(a.Balance)
	}
	if !sum.Equal(b.totalDeposits) {
		return fmt.Errorf("total deposits %s does not match sum of balances %s", b.totalDeposits, sum)
	}
	if b.totalDeposits.GreaterThan(b.policy.BankCap) {
		return fmt.Errorf("total deposits %s exceeds bank cap %s", b.totalDeposits, b.policy.BankCap)
	}
	return nil
}
