package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"bulwark/internal/shared/events"
)

const AllEvents = "*"

var (
	ErrSubscriberBacklog = errors.New("subscriber backlog full")
	ErrNoSubscribers     = errors.New("no subscribers for event type")
)

// Bus is an in-process event bus for local runs and tests. A full subscriber
// queue or a missing subscriber fails the publish so the outbox retries it
// instead of dropping it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan events.Envelope
	buffer      int
	logger      *slog.Logger
}

func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 128
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string][]chan events.Envelope),
		buffer:      buffer,
		logger:      logger,
	}
}

func (b *Bus) Publish(ctx context.Context, envelope events.Envelope) error {
	b.mu.RLock()
	subs := append([]chan events.Envelope(nil), b.subscribers[envelope.EventType]...)
	subs = append(subs, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return fmt.Errorf("%w: event_type=%s", ErrNoSubscribers, envelope.EventType)
	}
	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub <- envelope:
		default:
			return fmt.Errorf("%w: event_type=%s", ErrSubscriberBacklog, envelope.EventType)
		}
	}

	b.logger.Debug("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"event_id", envelope.EventID,
		"event_type", envelope.EventType,
		"subscriber_count", len(subs),
	)
	return nil
}

// Subscribe delivers events of eventType (or AllEvents) to handler until ctx
// is done.
func (b *Bus) Subscribe(ctx context.Context, eventType string, handler func(context.Context, events.Envelope) error) {
	ch := make(chan events.Envelope, b.buffer)

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	b.mu.Unlock()

	go func() {
		defer b.removeSubscriber(eventType, ch)
		for {
			select {
			case <-ctx.Done():
				return
			case envelope := <-ch:
				if err := handler(ctx, envelope); err != nil {
					b.logger.Error("bus subscriber failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"event_id", envelope.EventID,
						"event_type", envelope.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
}

func (b *Bus) Close() error {
	return nil
}

func (b *Bus) removeSubscriber(eventType string, target chan events.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscribers[eventType]
	filtered := make([]chan events.Envelope, 0, len(items))
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	b.subscribers[eventType] = filtered
}
