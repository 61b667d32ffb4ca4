package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"bulwark/contexts/platform-reliability/outbox-service/domain/entities"
	domainerrors "bulwark/contexts/platform-reliability/outbox-service/domain/errors"
	"bulwark/contexts/platform-reliability/outbox-service/ports"
)

const (
	defaultFetchLimit      = 100
	maxFetchLimit          = 1000
	defaultPurgeBatchSize  = 500
	maxLastErrorLength     = 2048
	staleProcessingMessage = "processing abandoned: attempt exceeded processing timeout"
)

// Service is the outbox API used by business writers, the relay worker and
// the admin surface.
type Service struct {
	Repo        ports.Repository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Correlation ports.CorrelationResolver
	MaxAttempts int
	Logger      *slog.Logger
}

// AttemptBudget is the publish attempt budget after defaults.
func (s Service) AttemptBudget() int {
	return s.maxAttempts()
}

func (s Service) maxAttempts() int {
	if s.MaxAttempts <= 0 {
		return entities.DefaultMaxAttempts
	}
	return s.MaxAttempts
}

func (s Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

// WithinUnitOfWork runs fn in one store transaction. Business writes and
// Enqueue calls made with the callback's context commit or roll back together.
func (s Service) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.Repo.WithinTransaction(ctx, fn)
}

// Enqueue records a pending event. Inside WithinUnitOfWork it is durable only
// once the surrounding transaction commits.
func (s Service) Enqueue(ctx context.Context, input ports.EnqueueInput) (string, error) {
	logger := ResolveLogger(s.Logger)

	correlationID := strings.TrimSpace(input.CorrelationID)
	if correlationID == "" && s.Correlation != nil {
		correlationID = s.Correlation.CorrelationID(ctx)
	}

	eventID, err := s.IDGenerator.NewID(ctx)
	if err != nil {
		return "", err
	}
	event, err := entities.NewEvent(eventID, input.EventType, input.Payload, correlationID, input.ActorID, s.now())
	if err != nil {
		return "", err
	}
	if err := s.Repo.Create(ctx, event); err != nil {
		logger.Error("outbox enqueue failed",
			"event", "outbox_enqueue_failed",
			"module", logModule,
			"layer", "application",
			"event_type", event.EventType,
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		return "", err
	}

	logger.Debug("outbox event enqueued",
		"event", "outbox_event_enqueued",
		"module", logModule,
		"layer", "application",
		"event_id", event.ID,
		"event_type", event.EventType,
		"correlation_id", correlationID,
	)
	return event.ID, nil
}

// FetchPending returns up to limit pending or failed events with remaining
// attempt budget, oldest first.
func (s Service) FetchPending(ctx context.Context, limit int) ([]entities.Event, error) {
	return s.Repo.ListClaimable(ctx, clampLimit(limit), s.maxAttempts())
}

// MarkProcessing claims the event for one publish attempt. It fails with
// ErrEventNotClaimable when another caller already moved the event on or its
// budget is spent.
func (s Service) MarkProcessing(ctx context.Context, eventID string) (entities.Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return entities.Event{}, domainerrors.ErrEventNotFound
	}
	return s.Repo.Claim(ctx, eventID, s.maxAttempts(), s.now())
}

// MarkProcessed is idempotent: repeating it on a processed event is a no-op.
func (s Service) MarkProcessed(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domainerrors.ErrEventNotFound
	}
	return s.Repo.MarkProcessed(ctx, eventID, s.now())
}

func (s Service) MarkFailed(ctx context.Context, eventID string, cause error) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domainerrors.ErrEventNotFound
	}
	message := "unknown publish failure"
	if cause != nil {
		message = truncateError(cause.Error())
	}
	return s.Repo.MarkFailed(ctx, eventID, message)
}

func (s Service) Get(ctx context.Context, eventID string) (entities.Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return entities.Event{}, domainerrors.ErrEventNotFound
	}
	return s.Repo.Get(ctx, eventID)
}

// ListDeadLetters returns failed events whose attempt budget is spent.
func (s Service) ListDeadLetters(ctx context.Context, limit int) ([]entities.Event, error) {
	return s.Repo.ListDeadLetters(ctx, clampLimit(limit), s.maxAttempts())
}

// ReclaimStale fails events stuck in processing longer than olderThan so the
// relay can retry them.
func (s Service) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	count, err := s.Repo.ReclaimStale(ctx, s.now().Add(-olderThan), staleProcessingMessage)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		ResolveLogger(s.Logger).Warn("stale processing events reclaimed",
			"event", "outbox_stale_processing_reclaimed",
			"module", logModule,
			"layer", "application",
			"reclaimed_count", count,
		)
	}
	return count, nil
}

// PurgeProcessed deletes events processed before cutoff. Pending and
// failed events are never touched.
func (s Service) PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.Repo.DeleteProcessedBefore(ctx, cutoff.UTC(), defaultPurgeBatchSize)
}

// ReplayDeadLetter enqueues a fresh pending copy of a dead-lettered event.
// The original row keeps its status and attempt count.
func (s Service) ReplayDeadLetter(ctx context.Context, eventID string) (string, error) {
	logger := ResolveLogger(s.Logger)

	original, err := s.Get(ctx, eventID)
	if err != nil {
		return "", err
	}
	if !original.DeadLettered(s.maxAttempts()) {
		return "", domainerrors.ErrEventNotDeadLettered
	}

	replayID, err := s.Enqueue(ctx, ports.EnqueueInput{
		EventType:     original.EventType,
		Payload:       original.Payload,
		CorrelationID: original.CorrelationID,
		ActorID:       original.ActorID,
	})
	if err != nil {
		return "", err
	}

	logger.Info("dead-lettered event replayed",
		"event", "outbox_dead_letter_replayed",
		"module", logModule,
		"layer", "application",
		"event_id", original.ID,
		"replay_event_id", replayID,
		"event_type", original.EventType,
	)
	return replayID, nil
}

// IsConflict reports errors caused by a concurrent or out-of-order state change.
func IsConflict(err error) bool {
	return errors.Is(err, domainerrors.ErrEventNotClaimable) ||
		errors.Is(err, domainerrors.ErrInvalidTransition)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultFetchLimit
	}
	if limit > maxFetchLimit {
		return maxFetchLimit
	}
	return limit
}

func truncateError(message string) string {
	message = strings.TrimSpace(message)
	if len(message) <= maxLastErrorLength {
		return message
	}
	return message[:maxLastErrorLength]
}
