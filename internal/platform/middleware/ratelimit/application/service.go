package application

import (
	"context"
	"log/slog"
	"time"

	"bulwark/internal/platform/middleware/ratelimit/domain"
)

// Service picks a policy and counts the request. The shared counter is tried
// first; any failure there moves the request to the local fallback so a store
// outage never removes admission control.
type Service struct {
	Policies domain.PolicyTable
	Primary  domain.Counter
	Fallback domain.Counter
	Now      func() time.Time
	Logger   *slog.Logger
}

func (s Service) Decide(ctx context.Context, path string, clientIP string, fingerprint string) domain.Decision {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	policy := s.Policies.Resolve(path)
	key := domain.Key{Class: policy.Class, ClientIP: clientIP, Fingerprint: fingerprint}

	if s.Primary != nil {
		count, resetAt, err := s.Primary.Increment(ctx, key, policy.Window, now)
		if err == nil {
			return domain.Decide(policy, count, resetAt, now)
		}
	}

	if s.Fallback == nil {
		return domain.Decision{Allowed: true, Policy: policy, Remaining: policy.Limit, Degraded: true}
	}
	count, resetAt, err := s.Fallback.Increment(ctx, key, policy.Window, now)
	if err != nil {
		s.logger().Error("local rate limit fallback failed",
			"event", "ratelimit_fallback_failed",
			"module", "internal/platform/middleware/ratelimit",
			"layer", "application",
			"class", policy.Class,
			"error", err.Error(),
		)
		return domain.Decision{Allowed: true, Policy: policy, Remaining: policy.Limit, Degraded: true}
	}
	decision := domain.Decide(policy, count, resetAt, now)
	decision.Degraded = true
	return decision
}

func (s Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
