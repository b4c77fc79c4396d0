// Package events forwards tracked funnel events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"tinyhome/api/funnel"
)

// Publisher is a funnel.EventPublisher that can be closed on shutdown.
type Publisher interface {
	funnel.EventPublisher
	Close() error
}

// New returns a Kafka publisher, or a no-op one when no brokers are configured.
func New(brokers []string, topic string, logger *zap.Logger) Publisher {
	if len(brokers) == 0 {
		logger.Info("Kafka brokers not configured, funnel event publishing disabled")
		return NoopPublisher{}
	}
	logger.Info("Kafka funnel event publisher enabled", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return NewKafkaPublisher(brokers, topic)
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher writes to topic, keyed by user id so that one user's
// events stay on one partition.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) PublishEvent(ctx context.Context, event funnel.Event) error {
	msg, err := newMessage(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish funnel event %s: %w", event.EventID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func newMessage(event funnel.Event) (kafka.Message, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode funnel event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.UserID),
		Value: body,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "step", Value: []byte(event.Step)},
			{Key: "category", Value: []byte(event.Category)},
		},
	}, nil
}

type NoopPublisher struct{}

func (NoopPublisher) PublishEvent(context.Context, funnel.Event) error { return nil }

func (NoopPublisher) Close() error { return nil }
