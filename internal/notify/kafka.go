package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"twentymin-coach/backend/internal/session/event"
)

// KafkaDispatcher writes session events to the realtime topic consumed by the
// notify worker and websocket gateways. Messages are keyed by session id so
// consumers see each session's events in order.
type KafkaDispatcher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaDispatcher creates a dispatcher that writes to the given topic.
// Returns nil when brokers or topic are unset, so realtime delivery is
// optional in local setups. Call Close when shutting down.
func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaDispatcher{writer: writer, topic: topic}
}

// Dispatch serializes the event as JSON and writes it to the topic. Uses a
// short timeout so slow Kafka does not hold the dispatch goroutine.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, p event.Payload) error {
	if d == nil || d.writer == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(p.SessionID),
		Value: raw,
	})
}

// Close closes the Kafka writer. Safe to call multiple times and on nil.
func (d *KafkaDispatcher) Close() error {
	if d == nil || d.writer == nil {
		return nil
	}
	return d.writer.Close()
}
