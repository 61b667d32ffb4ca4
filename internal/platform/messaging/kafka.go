package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"bulwark/internal/shared/events"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes envelopes synchronously and waits for all in-sync
// replicas, so a nil error means the broker has the event.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(writer, topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, envelope events.Envelope) error {
	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	message := kafka.Message{
		Key:   []byte(envelope.Key()),
		Value: value,
		Time:  envelope.OccurredAtUTC,
	}
	for name, headerValue := range envelope.Headers() {
		message.Headers = append(message.Headers, kafka.Header{Key: name, Value: []byte(headerValue)})
	}
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return err
	}

	p.logger.Debug("event published",
		"event", "kafka_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"driver", DriverKafkaGo,
		"topic", p.topic,
		"event_id", envelope.EventID,
		"event_type", envelope.EventType,
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
