package ports

import (
	"context"
	"encoding/json"
	"time"

	"bulwark/contexts/platform-reliability/outbox-service/domain/entities"
	"bulwark/internal/shared/events"
)

// Repository is the event record store. Calls made with a context returned
// inside WithinTransaction join that transaction.
type Repository interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, event entities.Event) error
	Get(ctx context.Context, eventID string) (entities.Event, error)
	ListClaimable(ctx context.Context, limit int, maxAttempts int) ([]entities.Event, error)
	// Claim moves a pending|failed event with remaining budget to processing.
	Claim(ctx context.Context, eventID string, maxAttempts int, now time.Time) (entities.Event, error)
	// MarkProcessed is a no-op for an event that is already processed.
	MarkProcessed(ctx context.Context, eventID string, now time.Time) error
	MarkFailed(ctx context.Context, eventID string, lastError string) error
	ReclaimStale(ctx context.Context, lastAttemptBefore time.Time, reason string) (int, error)
	ListDeadLetters(ctx context.Context, limit int, maxAttempts int) ([]entities.Event, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type EventEnvelope = events.Envelope

type EventPublisher interface {
	Publish(ctx context.Context, envelope EventEnvelope) error
}

// CorrelationResolver supplies the correlation id carried by the caller's
// context when an enqueue does not name one.
type CorrelationResolver interface {
	CorrelationID(ctx context.Context) string
}

// Metrics records relay and retention outcomes. Implementations must be safe
// for concurrent use.
type Metrics interface {
	EventPublished(ctx context.Context, eventType string)
	EventFailed(ctx context.Context, eventType string)
	EventDeadLettered(ctx context.Context, eventType string)
	EventsReclaimed(ctx context.Context, count int)
	RecordsPurged(ctx context.Context, target string, count int64)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type EnqueueInput struct {
	EventType     string
	Payload       json.RawMessage
	CorrelationID string
	ActorID       string
}
