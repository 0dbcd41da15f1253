package domain

import "fmt"

// Policy 建構時固定的兩個限制，之後不可變更
type Policy struct {
	WithdrawalLimit Quantity
	BankCap         Quantity
}

// NewPolicy 建立限制
//
// 參數:
//
//	withdrawalLimit: 單筆提款上限 (必須 > 0)
//	bankCap: 銀行總額上限 (必須 > 0)
//
// 回傳:
//
//	Policy: 限制
//	error: ErrInvalidConfig
//
// 注意: 不檢查 bankCap >= withdrawalLimit，由呼叫端負責
func NewPolicy(withdrawalLimit, bankCap Quantity) (Policy, error) {
	if !withdrawalLimit.IsPositive() {
		return Policy{}, fmt.Errorf("%w: withdrawal limit must be positive, got %s", ErrInvalidConfig, withdrawalLimit)
	}
	if !bankCap.IsPositive() {
		return Policy{}, fmt.Errorf("%w: bank cap must be positive, got %s", ErrInvalidConfig, bankCap)
	}
	return Policy{WithdrawalLimit: withdrawalLimit, BankCap: bankCap}, nil
}

// CheckDeposit 檢查存款是否會超過銀行上限
func (p Policy) CheckDeposit(totalDeposits, amount Quantity) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	attempted := totalDeposits.Add(amount)
	if attempted.GreaterThan(p.BankCap) {
		return &ExceedsBankCapError{AttemptedTotal: attempted, Cap: p.BankCap}
	}
	return nil
}

// CheckWithdraw 檢查提款
// 先檢查單筆上限再檢查餘額，超過上限時一律回傳 ExceedsWithdrawalLimitError
func (p Policy) CheckWithdraw(balance, amount Quantity) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if amount.GreaterThan(p.WithdrawalLimit) {
		return &ExceedsWithdrawalLimitError{Requested: amount, Limit: p.WithdrawalLimit}
	}
	if amount.GreaterThan(balance) {
		return &InsufficientBalanceError{Available: balance, Requested: amount}
	}
	return nil
}
