package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNegativeAmount 金額不可為負數
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrExceedsBankCap 存款後總額超過銀行上限
	ErrExceedsBankCap = errors.New("exceeds bank cap")

	// ErrExceedsWithdrawalLimit 單筆提款超過上限
	ErrExceedsWithdrawalLimit = errors.New("exceeds withdrawal limit")

	// ErrInsufficientBalance 餘額不足
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidConfig 建構參數錯誤
	ErrInvalidConfig = errors.New("invalid ledger config")

	// ErrPayoutFailed 提款撥付失敗 (帳本狀態已回滾)
	ErrPayoutFailed = errors.New("payout failed")

	// ErrJournalWriteFailed 寫入日誌失敗
	ErrJournalWriteFailed = errors.New("journal write failed")

	// ErrUnknownOperation 無法識別的交易類型
	ErrUnknownOperation = errors.New("unknown operation type")

	// ErrSelectOperationFailed 查詢交易失敗
	ErrSelectOperationFailed = errors.New("select operation failed")

	// ErrRefIDConflict 同一個外部追蹤號已用於內容不同的交易
	ErrRefIDConflict = errors.New("ref id already used by a different operation")

	// ErrSettlementPending 提款已扣款但撥付結果尚未確認，需要對帳
	ErrSettlementPending = errors.New("withdrawal awaiting settlement")
)

// ExceedsBankCapError 存款會讓總額超過上限
type ExceedsBankCapError struct {
	AttemptedTotal Quantity
	Cap            Quantity
}

func (e *ExceedsBankCapError) Error() string {
	return fmt.Sprintf("%s: attempted total %s, cap %s", ErrExceedsBankCap, e.AttemptedTotal, e.Cap)
}

func (e *ExceedsBankCapError) Is(target error) bool { return target == ErrExceedsBankCap }

// ExceedsWithdrawalLimitError 提款金額超過單筆上限
type ExceedsWithdrawalLimitError struct {
	Requested Quantity
	Limit     Quantity
}

func (e *ExceedsWithdrawalLimitError) Error() string {
	return fmt.Sprintf("%s: requested %s, limit %s", ErrExceedsWithdrawalLimit, e.Requested, e.Limit)
}

func (e *ExceedsWithdrawalLimitError) Is(target error) bool { return target == ErrExceedsWithdrawalLimit }

// InsufficientBalanceError 提款金額大於可用餘額
type InsufficientBalanceError struct {
	Available Quantity
	Requested Quantity
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: available %s, requested %s", ErrInsufficientBalance, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }
