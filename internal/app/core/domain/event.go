package domain

import "github.com/google/uuid"

// EventKind 通知類型
type EventKind string

const (
	EventDeposited EventKind = "Deposited"
	EventWithdrawn EventKind = "Withdrawn"
)

// Event 帳本成功變更後發出的通知，Sequence 與提交順序一致
type Event struct {
	Sequence    uint64    `json:"seq"`
	Kind        EventKind `json:"kind"`
	Account     Identity  `json:"account"`
	Amount      Quantity  `json:"amount"`
	OperationID uuid.UUID `json:"operation_id"`
	CreatedAt   int64     `json:"created_at"`
}

// EventFor 依交易產生對應的通知
func EventFor(op *Operation) Event {
	kind := EventDeposited
	if op.Type == OperationTypeWithdraw {
		kind = EventWithdrawn
	}
	return Event{
		Sequence:    op.Sequence,
		Kind:        kind,
		Account:     op.Caller,
		Amount:      op.Amount,
		OperationID: op.OperationID,
		CreatedAt:   op.CreatedAt,
	}
}
