package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"bulwark/internal/shared/events"

	"github.com/IBM/sarama"
)

// SaramaPublisher is the alternative driver for clusters that need sarama's
// protocol coverage. It blocks until the broker acknowledges.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

func NewSaramaPublisher(brokers []string, topic string, logger *slog.Logger) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newSaramaPublisher(producer, topic, logger), nil
}

func newSaramaPublisher(producer sarama.SyncProducer, topic string, logger *slog.Logger) *SaramaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SaramaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *SaramaPublisher) Publish(ctx context.Context, envelope events.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	message := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(envelope.Key()),
		Value:     sarama.ByteEncoder(value),
		Timestamp: envelope.OccurredAtUTC,
	}
	for name, headerValue := range envelope.Headers() {
		message.Headers = append(message.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(headerValue)})
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return err
	}
	p.logger.Debug("event published",
		"event", "kafka_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"driver", DriverSarama,
		"topic", p.topic,
		"partition", partition,
		"offset", offset,
		"event_id", envelope.EventID,
		"event_type", envelope.EventType,
	)
	return nil
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
