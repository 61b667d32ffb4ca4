package workers

import (
	"context"
	"log/slog"
	"time"

	application "bulwark/contexts/platform-reliability/outbox-service/application"
	"bulwark/contexts/platform-reliability/outbox-service/ports"
)

// RetentionTarget deletes terminal records older than cutoff from one
// bounded collection.
type RetentionTarget interface {
	Name() string
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

type RetentionPolicy struct {
	Target    RetentionTarget
	Retention time.Duration
}

// RetentionSweeper applies each policy in turn. A failing target is logged
// and the sweep continues.
type RetentionSweeper struct {
	Policies []RetentionPolicy
	Clock    ports.Clock
	Metrics  ports.Metrics
	Logger   *slog.Logger
}

func (s RetentionSweeper) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	metrics := resolveMetrics(s.Metrics)

	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}

	for _, policy := range s.Policies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if policy.Target == nil || policy.Retention <= 0 {
			continue
		}
		name := policy.Target.Name()
		cutoff := now.Add(-policy.Retention)

		deleted, err := policy.Target.Purge(ctx, cutoff)
		if err != nil {
			logger.Error("retention purge failed",
				"event", "retention_purge_failed",
				"module", logModule,
				"layer", "worker",
				"target", name,
				"cutoff", cutoff,
				"deleted_count", deleted,
				"error", err.Error(),
			)
			continue
		}
		if deleted > 0 {
			metrics.RecordsPurged(ctx, name, deleted)
		}
		logger.Info("retention purge completed",
			"event", "retention_purge_completed",
			"module", logModule,
			"layer", "worker",
			"target", name,
			"cutoff", cutoff,
			"deleted_count", deleted,
		)
	}
	return nil
}

// OutboxRetention purges processed outbox events.
type OutboxRetention struct {
	Outbox application.Service
}

func (OutboxRetention) Name() string {
	return "outbox_events"
}

func (o OutboxRetention) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	return o.Outbox.PurgeProcessed(ctx, cutoff)
}
