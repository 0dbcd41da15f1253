package memory

import (
	"context"
	"sync"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
)

// Wallet 記錄撥付給每個當事人的金額 (帳本外部的錢包)
type Wallet struct {
	mu   sync.Mutex
	paid map[domain.Identity]domain.Quantity
}

func NewWallet() *Wallet {
	return &Wallet{
		paid: make(map[domain.Identity]domain.Quantity),
	}
}

// Pay 撥付，ctx 已取消時失敗
func (w *Wallet) Pay(ctx context.Context, to domain.Identity, amount domain.Quantity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.paid[to]
	if !ok {
		prev = domain.Zero
	}
	w.paid[to] = prev.Add(amount)
	return nil
}

// PaidTo 累計撥付給 id 的金額
func (w *Wallet) PaidTo(id domain.Identity) domain.Quantity {
	w.mu.Lock()
	defer w.mu.Unlock()
	if q, ok := w.paid[id]; ok {
		return q
	}
	return domain.Zero
}

var _ usecase.Payout = (*Wallet)(nil)
