package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationType 交易類型
type OperationType uint8

const (
	// 存款
	OperationTypeDeposit OperationType = 1
	// 提款
	OperationTypeWithdraw OperationType = 2
	// 提款撥付失敗，沖銷同一 ID 的提款紀錄 (只出現在日誌)
	OperationTypeReverted OperationType = 3
)

func (t OperationType) String() string {
	switch t {
	case OperationTypeDeposit:
		return "deposit"
	case OperationTypeWithdraw:
		return "withdraw"
	case OperationTypeReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// 存款的進入點，只用於觀測，兩者走同一套檢查
const (
	ViaDeposit = "deposit"
	ViaReceive = "receive"
)

// Operation 一筆存款或提款
type Operation struct {
	// Sequence: 帳本分配的順序號 (1, 2, 3...)
	Sequence uint64 `json:"seq"`
	// OperationID: 外部追蹤號，重送同一個 ID 視為成功
	OperationID uuid.UUID `json:"id"`
	// Caller: 執行環境認定的當事人
	Caller Identity `json:"caller"`
	// Amount: 金額
	Amount Quantity `json:"amount"`
	// CreatedAt: 交易時間 (UnixNano，僅供參考)
	CreatedAt int64 `json:"created_at"`
	// Via: deposit 或 receive
	Via  string        `json:"via,omitempty"`
	Type OperationType `json:"type"`
}

// NewDeposit 建立存款
func NewDeposit(caller Identity, amount Quantity) *Operation {
	return newOperation(OperationTypeDeposit, caller, amount, ViaDeposit)
}

// NewReceive 建立直接轉入的存款
func NewReceive(caller Identity, amount Quantity) *Operation {
	return newOperation(OperationTypeDeposit, caller, amount, ViaReceive)
}

// NewWithdraw 建立提款
func NewWithdraw(caller Identity, amount Quantity) *Operation {
	return newOperation(OperationTypeWithdraw, caller, amount, "")
}

func newOperation(t OperationType, caller Identity, amount Quantity, via string) *Operation {
	return &Operation{
		OperationID: uuid.New(),
		Caller:      caller,
		Amount:      amount,
		CreatedAt:   time.Now().UnixNano(),
		Via:         via,
		Type:        t,
	}
}

// Reversal 沖銷紀錄
func (o *Operation) Reversal() *Operation {
	return &Operation{
		Sequence:    o.Sequence,
		OperationID: o.OperationID,
		Caller:      o.Caller,
		Amount:      o.Amount,
		CreatedAt:   time.Now().UnixNano(),
		Type:        OperationTypeReverted,
	}
}

// SameRequest 同一個 OperationID 重送時內容必須一致 (deposit 與 receive 視為相同)
func (o *Operation) SameRequest(other *Operation) bool {
	return o.Type == other.Type && o.Caller == other.Caller && o.Amount.Equal(other.Amount)
}

// CheckRetry 比對已提交的交易與重送的交易
// 一致時把原本的 Sequence 帶回 retry，不一致時回傳 ErrRefIDConflict
func (o *Operation) CheckRetry(retry *Operation) error {
	if !o.SameRequest(retry) {
		return fmt.Errorf("%w: %s was a %s of %s by %s", ErrRefIDConflict,
			o.OperationID, o.Type, o.Amount, o.Caller)
	}
	retry.Sequence = o.Sequence
	return nil
}
