package usecase

import (
	"context"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
)

// Ledger 是帳務系統的介面
type Ledger interface {
	// 不分 Deposit/Withdraw，直接看 op.Type 決定
	// 成功時會填入 op.Sequence
	PostOperation(ctx context.Context, op *domain.Operation) error
	// GetAccountBalance 取得帳戶餘額，沒存過款的帳戶為 0
	GetAccountBalance(ctx context.Context, id domain.Identity) (domain.Quantity, error)
	// GetStats 取得總額、計數與設定
	GetStats(ctx context.Context) (domain.Stats, error)
}

// EventPublisher 接收帳本通知，必須在帳本的互斥區內同步呼叫以保持順序
type EventPublisher interface {
	Publish(event domain.Event)
}

// Payout 提款時把金額轉回給當事人
// 回傳錯誤時帳本會回滾這筆提款
type Payout interface {
	Pay(ctx context.Context, to domain.Identity, amount domain.Quantity) error
}

// Journal 交易日誌 (Write-Ahead Log)，每筆紀錄是一個 JSON 物件
type Journal interface {
	Write(v any) error
	ReadAll(callback func(jsonRaw []byte) error) error
	Close() error
}

// PayoutFunc 讓一般函式實作 Payout
type PayoutFunc func(ctx context.Context, to domain.Identity, amount domain.Quantity) error

func (f PayoutFunc) Pay(ctx context.Context, to domain.Identity, amount domain.Quantity) error {
	return f(ctx, to, amount)
}
