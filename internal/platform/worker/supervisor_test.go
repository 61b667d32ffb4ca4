package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisorLifecycle(t *testing.T) {
	supervisor := NewSupervisor(nil)
	var ticks atomic.Int64
	if err := supervisor.Register(Descriptor{
		Name:         "outbox-relay",
		PollInterval: 5 * time.Millisecond,
		BatchSize:    100,
		Job: JobFunc(func(context.Context) error {
			ticks.Add(1)
			return nil
		}),
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if supervisor.State() != StateUnstarted {
		t.Fatalf("expected unstarted, got %s", supervisor.State())
	}

	if err := supervisor.StartAll(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if supervisor.State() != StateRunning {
		t.Fatalf("expected running, got %s", supervisor.State())
	}
	waitFor(t, func() bool { return ticks.Load() >= 3 })

	if err := supervisor.StartAll(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected second start to fail, got %v", err)
	}
	if err := supervisor.Register(Descriptor{Name: "late", PollInterval: time.Second, Job: JobFunc(noop)}); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected late register to fail, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := supervisor.StopAll(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if supervisor.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", supervisor.State())
	}
	stoppedAt := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != stoppedAt {
		t.Fatalf("expected no ticks after stop")
	}

	if err := supervisor.StartAll(context.Background()); !errors.Is(err, ErrSupervisorStopped) {
		t.Fatalf("expected restart to be rejected, got %v", err)
	}
	for _, status := range supervisor.Snapshot() {
		if status.State != StateStopped {
			t.Fatalf("expected worker %s stopped, got %s", status.Name, status.State)
		}
	}
}

func TestSupervisorIsolatesFailingAndPanickingTicks(t *testing.T) {
	supervisor := NewSupervisor(nil)
	var failing, panicking, healthy atomic.Int64

	register(t, supervisor, "failing", func(context.Context) error {
		failing.Add(1)
		return errors.New("store unavailable")
	})
	register(t, supervisor, "panicking", func(context.Context) error {
		panicking.Add(1)
		panic("bad payload")
	})
	register(t, supervisor, "healthy", func(context.Context) error {
		healthy.Add(1)
		return nil
	})

	if err := supervisor.StartAll(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool {
		return failing.Load() >= 2 && panicking.Load() >= 2 && healthy.Load() >= 2
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := supervisor.StopAll(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	for _, status := range supervisor.Snapshot() {
		switch status.Name {
		case "failing", "panicking":
			if status.Failures == 0 || status.LastError == "" {
				t.Fatalf("expected %s failures to be recorded, got %+v", status.Name, status)
			}
		case "healthy":
			if status.Failures != 0 {
				t.Fatalf("expected healthy worker without failures, got %+v", status)
			}
		}
	}
}

func TestStopAllHonoursGracePeriod(t *testing.T) {
	supervisor := NewSupervisor(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	register(t, supervisor, "stuck", func(context.Context) error {
		select {
		case <-started:
		default:
			close(started)
		}
		<-release
		return nil
	})
	if err := supervisor.StartAll(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := supervisor.StopAll(ctx); !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected stop timeout, got %v", err)
	}
	if supervisor.State() != StateStopped {
		t.Fatalf("expected stopped after grace period, got %s", supervisor.State())
	}
}

func TestParentCancellationLeavesInFlightTickToStopAll(t *testing.T) {
	supervisor := NewSupervisor(nil)
	started := make(chan struct{})
	var cancelled atomic.Bool

	register(t, supervisor, "outbox-relay", func(ctx context.Context) error {
		select {
		case <-started:
			return nil
		default:
			close(started)
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	signalCtx, signal := context.WithCancel(context.Background())
	if err := supervisor.StartAll(signalCtx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	<-started

	signal()
	time.Sleep(50 * time.Millisecond)
	if cancelled.Load() {
		t.Fatal("expected in-flight tick to keep running until StopAll")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := supervisor.StopAll(ctx); err != nil {
		t.Fatalf("expected graceful stop, got %v", err)
	}
	if !cancelled.Load() {
		t.Fatal("expected StopAll to cancel the in-flight tick")
	}
}

func TestRegisterValidation(t *testing.T) {
	supervisor := NewSupervisor(nil)
	if err := supervisor.Register(Descriptor{Name: "", PollInterval: time.Second, Job: JobFunc(noop)}); !errors.Is(err, ErrInvalidWorker) {
		t.Fatalf("expected invalid worker for blank name, got %v", err)
	}
	if err := supervisor.Register(Descriptor{Name: "x", Job: JobFunc(noop)}); !errors.Is(err, ErrInvalidWorker) {
		t.Fatalf("expected invalid worker for zero interval, got %v", err)
	}
	register(t, supervisor, "x", noop)
	if err := supervisor.Register(Descriptor{Name: "x", PollInterval: time.Second, Job: JobFunc(noop)}); !errors.Is(err, ErrDuplicateWorker) {
		t.Fatalf("expected duplicate worker, got %v", err)
	}
	if err := supervisor.StopAll(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected not started, got %v", err)
	}
}

func register(t *testing.T, supervisor *Supervisor, name string, fn func(context.Context) error) {
	t.Helper()
	if err := supervisor.Register(Descriptor{Name: name, PollInterval: 2 * time.Millisecond, Job: JobFunc(fn)}); err != nil {
		t.Fatalf("register %s failed: %v", name, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func noop(context.Context) error { return nil }
