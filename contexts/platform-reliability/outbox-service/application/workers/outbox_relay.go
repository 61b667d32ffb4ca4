package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "bulwark/contexts/platform-reliability/outbox-service/application"
	"bulwark/contexts/platform-reliability/outbox-service/domain/entities"
	"bulwark/contexts/platform-reliability/outbox-service/ports"
)

const logModule = "platform-reliability/outbox-service"

// OutboxRelay publishes claimable outbox events one at a time. A failed item
// is recorded and the batch moves on; delivery is at-least-once.
type OutboxRelay struct {
	Outbox            application.Service
	Publisher         ports.EventPublisher
	Metrics           ports.Metrics
	SourceService     string
	BatchSize         int
	ProcessingTimeout time.Duration
	Logger            *slog.Logger
}

type RelayResult struct {
	Published    int
	Failed       int
	DeadLettered int
	Skipped      int
}

func (r OutboxRelay) RunOnce(ctx context.Context) error {
	_, err := r.Relay(ctx)
	return err
}

// Relay runs one tick and reports per-outcome counts.
func (r OutboxRelay) Relay(ctx context.Context) (RelayResult, error) {
	logger := application.ResolveLogger(r.Logger)
	metrics := resolveMetrics(r.Metrics)
	var result RelayResult

	if reclaimed, err := r.Outbox.ReclaimStale(ctx, r.ProcessingTimeout); err != nil {
		logger.Error("outbox stale reclaim failed",
			"event", "outbox_reclaim_failed",
			"module", logModule,
			"layer", "worker",
			"error", err.Error(),
		)
	} else if reclaimed > 0 {
		metrics.EventsReclaimed(ctx, reclaimed)
	}

	pending, err := r.Outbox.FetchPending(ctx, r.BatchSize)
	if err != nil {
		logger.Error("outbox fetch pending failed",
			"event", "outbox_fetch_failed",
			"module", logModule,
			"layer", "worker",
			"error", err.Error(),
		)
		return result, err
	}

	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		switch r.relayOne(ctx, logger, metrics, event) {
		case outcomePublished:
			result.Published++
		case outcomeFailed:
			result.Failed++
		case outcomeDeadLettered:
			result.Failed++
			result.DeadLettered++
		default:
			result.Skipped++
		}
	}

	if len(pending) > 0 {
		logger.Info("outbox relay cycle completed",
			"event", "outbox_relay_completed",
			"module", logModule,
			"layer", "worker",
			"fetched_count", len(pending),
			"published_count", result.Published,
			"failed_count", result.Failed,
			"dead_lettered_count", result.DeadLettered,
			"skipped_count", result.Skipped,
		)
	}
	return result, nil
}

type relayOutcome int

const (
	outcomeSkipped relayOutcome = iota
	outcomePublished
	outcomeFailed
	outcomeDeadLettered
)

func (r OutboxRelay) relayOne(ctx context.Context, logger *slog.Logger, metrics ports.Metrics, event entities.Event) relayOutcome {
	claimed, err := r.Outbox.MarkProcessing(ctx, event.ID)
	if err != nil {
		if application.IsConflict(err) {
			logger.Debug("outbox event already claimed",
				"event", "outbox_claim_skipped",
				"module", logModule,
				"layer", "worker",
				"event_id", event.ID,
			)
			return outcomeSkipped
		}
		logger.Error("outbox mark processing failed",
			"event", "outbox_mark_processing_failed",
			"module", logModule,
			"layer", "worker",
			"event_id", event.ID,
			"error", err.Error(),
		)
		return outcomeSkipped
	}

	publishErr := r.Publisher.Publish(ctx, r.envelope(claimed))
	if publishErr == nil {
		if err := r.Outbox.MarkProcessed(ctx, claimed.ID); err != nil {
			// The event stays in processing and is retried after the
			// processing timeout, so consumers may see it twice.
			logger.Error("outbox mark processed failed",
				"event", "outbox_mark_processed_failed",
				"module", logModule,
				"layer", "worker",
				"event_id", claimed.ID,
				"error", err.Error(),
			)
		}
		metrics.EventPublished(ctx, claimed.EventType)
		return outcomePublished
	}

	metrics.EventFailed(ctx, claimed.EventType)
	logger.Warn("outbox publish failed",
		"event", "outbox_publish_failed",
		"module", logModule,
		"layer", "worker",
		"event_id", claimed.ID,
		"event_type", claimed.EventType,
		"correlation_id", claimed.CorrelationID,
		"attempts", claimed.Attempts,
		"error", publishErr.Error(),
	)
	if err := r.Outbox.MarkFailed(ctx, claimed.ID, publishErr); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("outbox mark failed failed",
			"event", "outbox_mark_failed_failed",
			"module", logModule,
			"layer", "worker",
			"event_id", claimed.ID,
			"error", err.Error(),
		)
	}

	if claimed.Exhausted(r.Outbox.AttemptBudget()) {
		metrics.EventDeadLettered(ctx, claimed.EventType)
		logger.Error("outbox event exhausted its attempts",
			"event", "outbox_event_dead_lettered",
			"module", logModule,
			"layer", "worker",
			"event_id", claimed.ID,
			"event_type", claimed.EventType,
			"correlation_id", claimed.CorrelationID,
			"attempts", claimed.Attempts,
			"last_error", publishErr.Error(),
		)
		return outcomeDeadLettered
	}
	return outcomeFailed
}

func (r OutboxRelay) envelope(event entities.Event) ports.EventEnvelope {
	return ports.EventEnvelope{
		EventID:        event.ID,
		EventType:      event.EventType,
		SourceService:  r.SourceService,
		OccurredAtUTC:  event.CreatedAt.UTC(),
		CorrelationID:  event.CorrelationID,
		ActorID:        event.ActorID,
		Attempt:        event.Attempts,
		PayloadVersion: 1,
		Payload:        event.Payload,
	}
}

type noopMetrics struct{}

func (noopMetrics) EventPublished(context.Context, string) {}
func (noopMetrics) EventFailed(context.Context, string) {}
func (noopMetrics) EventDeadLettered(context.Context, string) {}
func (noopMetrics) EventsReclaimed(context.Context, int) {}
func (noopMetrics) RecordsPurged(context.Context, string, int64) {}

func resolveMetrics(metrics ports.Metrics) ports.Metrics {
	if metrics == nil {
		return noopMetrics{}
	}
	return metrics
}
