package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Identity 存提款的當事人 (由外部執行環境提供，本層不做驗證)
type Identity string

// Quantity 原生價值單位的數量
// 使用 decimal 避免浮點誤差，同時支援 5.1 這類非整數金額
type Quantity = decimal.Decimal

// Zero 零值
var Zero = decimal.Zero

// ParseQuantity 解析字串金額，拒絕負數
func ParseQuantity(s string) (Quantity, error) {
	q, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	if q.IsNegative() {
		return Zero, ErrNegativeAmount
	}
	return q, nil
}

// MustQuantity 給常數與測試使用，解析失敗直接 panic
func MustQuantity(s string) Quantity {
	return decimal.RequireFromString(s)
}
