package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
)

// ErrLedgerStopped 核心引擎已停止
var ErrLedgerStopped = errors.New("ledger stopped")

type requestKind uint8

const (
	requestPost requestKind = iota
	requestBalance
	requestStats
)

// ledgerRequest 請求包裝，讓呼叫端可以等待結果
type ledgerRequest struct {
	kind requestKind
	ctx  context.Context
	op   *domain.Operation
	id   domain.Identity

	result chan ledgerResponse // 呼叫端等這個 channel
}

type ledgerResponse struct {
	err     error
	balance domain.Quantity
	stats   domain.Stats
}

// LMAXLedger 單一 goroutine 擁有全部狀態，寫入與查詢都透過同一條輸送帶
type LMAXLedger struct {
	engine *engine
	// 輸送帶 負責接收請求
	requestChan chan *ledgerRequest
	// 關閉後不再接受請求
	done chan struct{}
	// drain 完成後關閉
	stopped chan struct{}
	once    sync.Once
	// Pool 減少 GC 壓力
	requestPool sync.Pool
}

// NewLMAXLedger 建立一個新的 LMAXLedger 實例，需呼叫 Start 才會開始處理
//
// 參數:
//
//	bank: 空白帳本
//	opts: 日誌、撥付、通知等選項
//
// 回傳:
//
//	*LMAXLedger: LMAXLedger 實例
//	error: 初始化錯誤
func NewLMAXLedger(bank *domain.Bank, opts ...Option) (*LMAXLedger, error) {
	ledger := &LMAXLedger{
		engine:      newEngine(bank, opts...),
		requestChan: make(chan *ledgerRequest, 1000), // Buffer 1000
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		requestPool: sync.Pool{
			New: func() interface{} {
				return &ledgerRequest{
					result: make(chan ledgerResponse, 1),
				}
			},
		},
	}

	// 在啟動前先恢復資料 (單執行緒，無需 Lock)
	if err := ledger.engine.recoverFromJournal(); err != nil {
		return nil, err
	}
	return ledger, nil
}

// Start 啟動核心引擎 (非同步)，ctx 取消後處理完剩下的請求再停止
func (l *LMAXLedger) Start(ctx context.Context) {
	go l.run(ctx)
}

func (l *LMAXLedger) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的請求處理完
			l.once.Do(func() { close(l.done) })
			l.drain()
			close(l.stopped)
			return
		case req := <-l.requestChan:
			l.handle(req)
		}
	}
}

func (l *LMAXLedger) drain() {
	for {
		select {
		case req := <-l.requestChan:
			l.handle(req)
		default:
			return
		}
	}
}

// handle 處理單筆請求並回傳結果
func (l *LMAXLedger) handle(req *ledgerRequest) {
	var resp ledgerResponse
	switch req.kind {
	case requestPost:
		resp.err = l.engine.process(req.ctx, req.op)
	case requestBalance:
		resp.balance = l.engine.bank.BalanceOf(req.id)
	case requestStats:
		resp.stats = l.engine.bank.Stats()
	}
	req.result <- resp
}

// submit 放入輸送帶並等待結果
// PostOperation(等待) -> Channel -> Run Loop -> Journal -> State Update -> Result Channel
func (l *LMAXLedger) submit(ctx context.Context, kind requestKind, op *domain.Operation, id domain.Identity) (ledgerResponse, error) {
	req := l.requestPool.Get().(*ledgerRequest)
	req.kind, req.ctx, req.op, req.id = kind, ctx, op, id
	// 清空 Channel (理論上應該是空的)
	select {
	case <-req.result:
	default:
	}

	select {
	case <-l.done:
		l.requestPool.Put(req)
		return ledgerResponse{}, ErrLedgerStopped
	case <-ctx.Done():
		l.requestPool.Put(req)
		return ledgerResponse{}, ctx.Err()
	case l.requestChan <- req:
	}

	// 已進入輸送帶就等結果，以免狀態與回應不一致
	var resp ledgerResponse
	select {
	case resp = <-req.result:
	case <-l.stopped:
		select {
		case resp = <-req.result:
		default:
			// drain 之後才進入輸送帶，不會被處理；req 不放回 Pool
			return ledgerResponse{}, ErrLedgerStopped
		}
	}
	req.ctx, req.op = nil, nil
	l.requestPool.Put(req)
	return resp, nil
}

// PostOperation 接收交易請求
func (l *LMAXLedger) PostOperation(ctx context.Context, op *domain.Operation) error {
	resp, err := l.submit(ctx, requestPost, op, "")
	if err != nil {
		return err
	}
	return resp.err
}

// GetAccountBalance 取得指定帳戶的當前餘額
func (l *LMAXLedger) GetAccountBalance(ctx context.Context, id domain.Identity) (domain.Quantity, error) {
	resp, err := l.submit(ctx, requestBalance, nil, id)
	if err != nil {
		return domain.Zero, err
	}
	return resp.balance, nil
}

// GetStats 取得帳本快照
func (l *LMAXLedger) GetStats(ctx context.Context) (domain.Stats, error) {
	resp, err := l.submit(ctx, requestStats, nil, "")
	if err != nil {
		return domain.Stats{}, err
	}
	return resp.stats, nil
}

var _ usecase.Ledger = (*LMAXLedger)(nil)
