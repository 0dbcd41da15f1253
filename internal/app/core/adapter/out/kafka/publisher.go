package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
)

// DefaultTopic 預設的 Kafka topic
const DefaultTopic = "ledger_events"

// messageWriter 只用到 kafka.Writer 的這兩個方法，方便測試替換
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 把帳本通知寫到 Kafka
// 以帳戶為 key，同一個帳戶的通知會落在同一個 partition 保持順序
type Publisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			// Relay 一次只送一筆，預設的 1s 會把吞吐量壓到每秒一筆
			BatchTimeout: 10 * time.Millisecond,
		},
		logger: logger,
	}
}

// eventMessage 轉成 Kafka 訊息
func eventMessage(event domain.Event) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.Account),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
			{Key: "seq", Value: []byte(strconv.FormatUint(event.Sequence, 10))},
		},
	}, nil
}

// Publish 寫入單筆通知
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	msg, err := eventMessage(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// EventSource 可從指定序號重新訂閱的通知來源 (memory.EventBus)
type EventSource interface {
	Subscribe(from uint64) (<-chan domain.Event, func())
}

// Relay 訂閱 source 並轉送 Sequence 大於 from 的通知，直到 ctx 取消
// 跟不上被關閉訂閱時，從最後處理的序號重新訂閱；寫入失敗只記錄不重試
//
// 回傳:
//
//	uint64: 最後處理的序號
func (p *Publisher) Relay(ctx context.Context, source EventSource, from uint64) uint64 {
	last := from
	for {
		events, cancel := source.Subscribe(last)
		last = p.relay(ctx, events, last)
		cancel()
		if ctx.Err() != nil {
			return last
		}
		p.logger.Warn("event relay fell behind, resubscribing", zap.Uint64("from_seq", last))
	}
}

// relay 轉送直到 channel 關閉或 ctx 取消
func (p *Publisher) relay(ctx context.Context, events <-chan domain.Event, last uint64) uint64 {
	for {
		select {
		case <-ctx.Done():
			return last
		case event, ok := <-events:
			if !ok {
				return last
			}
			if err := p.Publish(ctx, event); err != nil {
				p.logger.Error("failed to publish ledger event",
					zap.Uint64("seq", event.Sequence),
					zap.String("kind", string(event.Kind)),
					zap.Error(err),
				)
			}
			last = event.Sequence
		}
	}
}

// Close 關閉 writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
