package memory

import (
	"context"
	"sync"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
)

// MutexLedger 是一個使用 Mutex 實現的帳本
//
// 結構:
//
//	engine: 帳本狀態、日誌、撥付與通知
//	mu: 寫入持有寫鎖直到通知送出，查詢使用讀鎖
type MutexLedger struct {
	engine *engine
	mu     sync.RWMutex
}

// NewMutexLedger 建立一個新的 MutexLedger 實例
//
// 參數:
//
//	bank: 空白帳本 (含管理者與限制)
//	opts: 日誌、撥付、通知等選項
//
// 回傳:
//
//	*MutexLedger: MutexLedger 實例
//	error: 初始化錯誤 (如日誌恢復失敗)
func NewMutexLedger(bank *domain.Bank, opts ...Option) (*MutexLedger, error) {
	ledger := &MutexLedger{
		engine: newEngine(bank, opts...),
	}
	if err := ledger.engine.recoverFromJournal(); err != nil {
		return nil, err
	}
	return ledger, nil
}

// PostOperation 處理交易請求 (Level 1: Mutex Lock)
//
// 參數:
//
//	ctx: 上下文 (傳給撥付)
//	op: 交易
//
// 回傳:
//
//	error: 處理錯誤
func (m *MutexLedger) PostOperation(ctx context.Context, op *domain.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.process(ctx, op)
}

// GetAccountBalance 取得指定帳戶的當前餘額
func (m *MutexLedger) GetAccountBalance(ctx context.Context, id domain.Identity) (domain.Quantity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.bank.BalanceOf(id), nil
}

// GetStats 取得帳本快照
func (m *MutexLedger) GetStats(ctx context.Context) (domain.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.bank.Stats(), nil
}

// Audit 在讀鎖下檢查不變量
func (m *MutexLedger) Audit() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.bank.Audit()
}

var _ usecase.Ledger = (*MutexLedger)(nil)
