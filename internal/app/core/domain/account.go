package domain

// Account 單一存款人的餘額
// 帳戶第一次存款時建立，之後只會歸零不會刪除
type Account struct {
	ID      Identity
	Balance Quantity
}

func NewAccount(id Identity, balance Quantity) *Account {
	return &Account{
		ID:      id,
		Balance: balance,
	}
}

// Credit 入帳
func (a *Account) Credit(amount Quantity) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

// Debit 扣款
func (a *Account) Debit(amount Quantity) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if a.Balance.LessThan(amount) {
		return &InsufficientBalanceError{Available: a.Balance, Requested: amount}
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}
