package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
)

// Option 設定記憶體帳本的選項
type Option func(*engine)

// WithJournal 每筆交易在提交前寫入日誌，啟動時從日誌恢復
func WithJournal(journal usecase.Journal) Option {
	return func(e *engine) {
		e.journal = journal
	}
}

// WithPayout 提款時的撥付對象
func WithPayout(payout usecase.Payout) Option {
	return func(e *engine) {
		e.payout = payout
	}
}

// WithEventPublisher 成功提交後的通知
func WithEventPublisher(publisher usecase.EventPublisher) Option {
	return func(e *engine) {
		e.events = publisher
	}
}

// engine 兩種記憶體帳本共用的狀態與流程，本身不是 thread-safe
//
// 流程: 冪等檢查 -> 驗證 -> 寫日誌 -> 撥付 -> 更新狀態 -> 發通知
type engine struct {
	bank *domain.Bank
	// 已提交的交易，重送時比對內容並帶回原本的 Sequence
	processed map[uuid.UUID]domain.Operation
	sequence  uint64
	journal   usecase.Journal
	payout    usecase.Payout
	events    usecase.EventPublisher
}

func newEngine(bank *domain.Bank, opts ...Option) *engine {
	e := &engine{
		bank:      bank,
		processed: make(map[uuid.UUID]domain.Operation),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// process 處理單筆交易
func (e *engine) process(ctx context.Context, op *domain.Operation) error {
	// 0. Idempotency Check
	if committed, ok := e.processed[op.OperationID]; ok {
		return committed.CheckRetry(op)
	}

	// 1. 驗證，失敗時什麼都不寫
	if err := e.bank.Validate(op); err != nil {
		return err
	}
	op.Sequence = e.sequence + 1

	// 2. 寫入日誌 (Critical Path)
	if e.journal != nil {
		if err := e.journal.Write(op); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrJournalWriteFailed, err)
		}
	}

	// 3. 提款先撥付，失敗則沖銷日誌並放棄
	if op.Type == domain.OperationTypeWithdraw && e.payout != nil {
		if err := e.payout.Pay(ctx, op.Caller, op.Amount); err != nil {
			payoutErr := fmt.Errorf("%w: %w", domain.ErrPayoutFailed, err)
			if e.journal != nil {
				if jerr := e.journal.Write(op.Reversal()); jerr != nil {
					return errors.Join(payoutErr, fmt.Errorf("%w: %v", domain.ErrJournalWriteFailed, jerr))
				}
			}
			return payoutErr
		}
	}

	// 4. 更新狀態 (已驗證過，不會失敗)
	if err := e.bank.Apply(op); err != nil {
		return err
	}
	e.sequence = op.Sequence
	e.processed[op.OperationID] = *op

	// 5. 通知
	if e.events != nil {
		e.events.Publish(domain.EventFor(op))
	}
	return nil
}

// recoverFromJournal 從日誌恢復帳本狀態 (不寫日誌、不撥付、不發通知)
func (e *engine) recoverFromJournal() error {
	if e.journal == nil {
		return nil
	}
	history := make([]domain.Operation, 0)
	// 沖銷只作用在同一 ID 的前一筆紀錄，之後用同一 ID 重送成功的提款仍要重放
	last := make(map[uuid.UUID]int)
	reverted := make(map[int]bool)

	err := e.journal.ReadAll(func(jsonRaw []byte) error {
		var op domain.Operation
		if err := json.Unmarshal(jsonRaw, &op); err != nil {
			return err
		}
		if op.Type == domain.OperationTypeReverted {
			if idx, ok := last[op.OperationID]; ok {
				reverted[idx] = true
			}
			return nil
		}
		last[op.OperationID] = len(history)
		history = append(history, op)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	for i := range history {
		op := &history[i]
		if reverted[i] {
			continue
		}
		if _, ok := e.processed[op.OperationID]; ok {
			continue
		}
		if err := e.bank.Apply(op); err != nil {
			return fmt.Errorf("replay seq %d (%s): %w", op.Sequence, op.OperationID, err)
		}
		e.processed[op.OperationID] = *op
		if op.Sequence > e.sequence {
			e.sequence = op.Sequence
		}
	}
	return nil
}
