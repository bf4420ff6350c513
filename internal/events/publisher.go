// Package events publishes routing decisions and tracking updates to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Default topics.
const (
	TopicRoutingDecisions = "shiprouter.routing-decisions"
	TopicTrackingEvents   = "shiprouter.tracking-events"
)

// Publisher sends JSON events keyed for partitioning.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, v any) error
	Close() error
}

// Writer is the subset of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON messages through a kafka Writer.
type KafkaPublisher struct {
	writer Writer
	logger *otelzap.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher writing to brokers. The topic is
// chosen per message.
func NewKafkaPublisher(brokers []string, logger *otelzap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(w, logger)
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w Writer, logger *otelzap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

// Publish encodes v as JSON and writes it to topic under key.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", topic, err)
	}
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Time:    time.Now().UTC(),
		Headers: []kafka.Header{{Key: "content-type", Value: []byte("application/json")}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Ctx(ctx).Error("Kafka write failed",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("writing %s event: %w", topic, err)
	}
	p.logger.Ctx(ctx).Debug("Event published", zap.String("topic", topic), zap.String("key", key))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }

// Close does nothing.
func (NopPublisher) Close() error { return nil }
