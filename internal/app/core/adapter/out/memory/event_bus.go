package memory

import (
	"sync"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
)

// DefaultSubscriberBuffer 每個訂閱者的 channel 大小
const DefaultSubscriberBuffer = 256

// EventBus 只能附加的有序通知紀錄，可供外部訂閱
//
// 訂閱者跟不上時 channel 會被關閉，可以用最後收到的 Sequence 重新訂閱補齊
type EventBus struct {
	mu     sync.RWMutex
	events []domain.Event
	subs   map[int]chan domain.Event
	nextID int
	buffer int
}

func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &EventBus{
		subs:   make(map[int]chan domain.Event),
		buffer: buffer,
	}
}

// Publish 附加一筆通知並推給所有訂閱者 (不阻塞)
func (b *EventBus) Publish(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(b.subs, id)
		}
	}
}

// Events 回傳全部通知的拷貝
func (b *EventBus) Events() []domain.Event {
	return b.Since(0)
}

// Since 回傳 Sequence 大於 seq 的通知
func (b *EventBus) Since(seq uint64) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.since(seq)
}

func (b *EventBus) since(seq uint64) []domain.Event {
	out := make([]domain.Event, 0)
	for _, e := range b.events {
		if e.Sequence > seq {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe 先補上 Sequence 大於 from 的歷史通知，再持續推送新通知
//
// 回傳:
//
//	<-chan domain.Event: 通知 channel
//	func(): 取消訂閱
func (b *EventBus) Subscribe(from uint64) (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	backlog := b.since(from)
	ch := make(chan domain.Event, len(backlog)+b.buffer)
	for _, e := range backlog {
		ch <- e
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				close(c)
				delete(b.subs, id)
			}
		})
	}
	return ch, cancel
}

// Close 關閉所有訂閱
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

var _ usecase.EventPublisher = (*EventBus)(nil)
