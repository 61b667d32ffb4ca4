// Package messaging connects the outbox relay to the event bus.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bulwark/internal/shared/events"
)

const (
	DriverKafkaGo   = "kafka-go"
	DriverSarama    = "sarama"
	DriverInProcess = "inprocess"
)

var ErrNoBrokers = errors.New("kafka brokers are required")

type Publisher interface {
	Publish(ctx context.Context, envelope events.Envelope) error
	Close() error
}

type Config struct {
	Driver  string
	Brokers []string
	Topic   string
}

// NewPublisher builds the publisher named by cfg.Driver.
func NewPublisher(cfg Config, logger *slog.Logger) (Publisher, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverKafkaGo
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "domain-events"
	}

	switch driver {
	case DriverInProcess:
		return NewBus(0, logger), nil
	case DriverKafkaGo, DriverSarama:
		if len(cfg.Brokers) == 0 {
			return nil, ErrNoBrokers
		}
		if driver == DriverSarama {
			return NewSaramaPublisher(cfg.Brokers, topic, logger)
		}
		return NewKafkaPublisher(cfg.Brokers, topic, logger), nil
	default:
		return nil, fmt.Errorf("unknown messaging driver %q", cfg.Driver)
	}
}
