package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"bulwark/internal/platform/middleware/ratelimit/domain"
	"bulwark/internal/platform/middleware/ratelimit/infra"
)

func TestDecideUsesPrimaryWhenHealthy(t *testing.T) {
	primary := infra.NewLocalCounter(10)
	fallback := &countingCounter{}
	service := newService(t, primary, fallback)

	decision := service.Decide(context.Background(), "/auth/login", "1.2.3.4", "anonymous")
	if !decision.Allowed || decision.Degraded {
		t.Fatalf("expected admitted primary decision, got %+v", decision)
	}
	if decision.Policy.Class != "auth" {
		t.Fatalf("expected auth policy, got %s", decision.Policy.Class)
	}
	if fallback.calls != 0 {
		t.Fatalf("expected fallback unused, got %d calls", fallback.calls)
	}
}

func TestDecideFallsBackWhenPrimaryFails(t *testing.T) {
	service := newService(t, failingCounter{}, infra.NewLocalCounter(10))

	var admitted int
	for i := 0; i < 4; i++ {
		decision := service.Decide(context.Background(), "/auth/login", "1.2.3.4", "anonymous")
		if !decision.Degraded {
			t.Fatalf("expected degraded decision")
		}
		if decision.Allowed {
			admitted++
		}
	}
	if admitted != 2 {
		t.Fatalf("expected fallback to admit 2 of 4, got %d", admitted)
	}
}

func TestDecideSeparatesKeysByFingerprint(t *testing.T) {
	service := newService(t, infra.NewLocalCounter(10), nil)

	for i := 0; i < 2; i++ {
		service.Decide(context.Background(), "/auth/login", "1.2.3.4", "caller-a")
	}
	if decision := service.Decide(context.Background(), "/auth/login", "1.2.3.4", "caller-b"); !decision.Allowed {
		t.Fatalf("expected a different caller behind the same ip to have its own budget")
	}
}

func newService(t *testing.T, primary domain.Counter, fallback domain.Counter) Service {
	t.Helper()
	table, err := domain.NewPolicyTable(
		domain.Policy{Limit: 100, Window: time.Minute},
		domain.Policy{Class: "auth", Prefixes: []string{"/auth/"}, Limit: 2, Window: time.Minute},
	)
	if err != nil {
		t.Fatalf("policy table failed: %v", err)
	}
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	return Service{
		Policies: table,
		Primary:  primary,
		Fallback: fallback,
		Now:      func() time.Time { return now },
	}
}

type failingCounter struct{}

func (failingCounter) Increment(context.Context, domain.Key, time.Duration, time.Time) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

type countingCounter struct {
	calls int
}

func (c *countingCounter) Increment(context.Context, domain.Key, time.Duration, time.Time) (int64, time.Time, error) {
	c.calls++
	return int64(c.calls), time.Time{}, nil
}
