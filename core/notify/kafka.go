package notify

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/logger"
)

// KafkaNotifier publishes one message per committed write operation to a Kafka
// topic, keyed by entity so consumers can maintain per-entity ordering. Writes
// are best-effort: a publish failure is logged, never surfaced to the caller
// that already committed its transaction.
type KafkaNotifier struct {
	writer *kafka.Writer
}

type changeEvent struct {
	Entity  string          `json:"entity"`
	Action  core.Action     `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// NewKafkaNotifier creates a notifier that publishes to topic on the given
// brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
		},
	}
}

// Notify implements Notifier.
func (k *KafkaNotifier) Notify(ctx context.Context, entity string, action core.Action, payload []byte) {
	body, err := json.Marshal(changeEvent{Entity: entity, Action: action, Payload: payload})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("notify: cannot marshal change event")
		return
	}
	msg := kafka.Message{Key: []byte(entity), Value: body, Time: time.Now()}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("notify: cannot publish change event for %s", entity)
	}
}

// Close flushes and closes the underlying Kafka writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
