// Package events は購入イベントを外部のメッセージブローカーへ送信する。
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hitoshi/plancheckout/internal/model"
)

// Publisher はoutboxメッセージを1件ずつ送信する。
type Publisher interface {
	Publish(ctx context.Context, msg *model.OutboxMessage) error
	Close() error
}

// Kafkaヘッダーのキー
const (
	HeaderEventType = "event_type"
	HeaderMessageID = "message_id"
)

// messageWriter は *kafka.Writer のうち送信に使う部分。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig はKafkaPublisherの設定。
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaPublisher は購入イベントをKafkaトピックへ送信する。
// 同じ購入のイベントが同じパーティションに入るよう、購入IDをキーにする。
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher はKafkaPublisherを生成する。
// 再送はoutboxリレーが次回送信時刻で制御するため、Writer自身は1回だけ試行する。
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger := slog.With(slog.String("component", "kafka"))
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  1,
		WriteTimeout: cfg.WriteTimeout,
		Logger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	}

	slog.Info("kafka publisher initialized",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic),
	)
	return &KafkaPublisher{writer: writer, topic: cfg.Topic}
}

// Publish はメッセージをKafkaへ送信する。
func (p *KafkaPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(msg.AggregateID, 10)),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(msg.EventType)},
			{Key: HeaderMessageID, Value: []byte(msg.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", msg.ID, p.topic, err)
	}
	return nil
}

// Close はWriterを閉じ、バッファ済みのメッセージを送信する。
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

// LogPublisher はブローカー未設定時に使う送信先で、イベントをログに出すだけ。
type LogPublisher struct{}

// Publish はイベントをログに記録する。
func (LogPublisher) Publish(_ context.Context, msg *model.OutboxMessage) error {
	slog.Info("purchase event",
		slog.String("message_id", msg.ID),
		slog.String("event_type", string(msg.EventType)),
		slog.Int64("purchase_id", msg.AggregateID),
	)
	return nil
}

// Close は何もしない。
func (LogPublisher) Close() error { return nil }

var (
	_ Publisher     = (*KafkaPublisher)(nil)
	_ Publisher     = LogPublisher{}
	_ messageWriter = (*kafka.Writer)(nil)
)
