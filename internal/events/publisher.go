package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// Publisher emits domain events after they have been committed. Publishing
// is best-effort; the transfer outcome never depends on it.
type Publisher interface {
	Publish(ctx context.Context, event any) error
	Close() error
}

// KafkaPublisher writes JSON-encoded events to a single topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Value: data})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop discards events; used when no broker is configured and in tests.
type Noop struct{}

func (Noop) Publish(ctx context.Context, event any) error { return nil }
func (Noop) Close() error                                 { return nil }

var _ Publisher = (*KafkaPublisher)(nil)
var _ Publisher = Noop{}
