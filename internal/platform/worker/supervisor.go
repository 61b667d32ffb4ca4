// Package worker runs named polling jobs side by side and stops them within a
// grace period.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyStarted    = errors.New("worker supervisor already started")
	ErrNotStarted        = errors.New("worker supervisor not started")
	ErrSupervisorStopped = errors.New("worker supervisor stopped")
	ErrDuplicateWorker   = errors.New("worker already registered")
	ErrInvalidWorker     = errors.New("invalid worker descriptor")
	ErrStopTimeout       = errors.New("workers did not stop within grace period")
)

type State string

const (
	StateUnstarted State = "unstarted"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
)

// Job is one unit of polling work. Errors and panics are logged and the loop
// keeps going.
type Job interface {
	RunOnce(ctx context.Context) error
}

type JobFunc func(ctx context.Context) error

func (f JobFunc) RunOnce(ctx context.Context) error {
	return f(ctx)
}

type Descriptor struct {
	Name         string
	PollInterval time.Duration
	BatchSize    int
	Job          Job
}

type WorkerStatus struct {
	Name         string
	State        State
	PollInterval time.Duration
	BatchSize    int
	Ticks        uint64
	Failures     uint64
	LastTickAt   time.Time
	LastError    string
}

type Supervisor struct {
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	workers []*managed
	cancel  context.CancelFunc
	group   *errgroup.Group
	done    chan struct{}
}

type managed struct {
	descriptor Descriptor

	mu     sync.Mutex
	status WorkerStatus
	exited bool
}

func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger: logger,
		state:  StateUnstarted,
	}
}

// Register adds a worker. It is only allowed before StartAll.
func (s *Supervisor) Register(descriptor Descriptor) error {
	descriptor.Name = strings.TrimSpace(descriptor.Name)
	if descriptor.Name == "" || descriptor.PollInterval <= 0 || descriptor.Job == nil {
		return fmt.Errorf("%w: %q", ErrInvalidWorker, descriptor.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUnstarted:
	case StateStopping, StateStopped:
		return ErrSupervisorStopped
	default:
		return ErrAlreadyStarted
	}
	for _, existing := range s.workers {
		if existing.descriptor.Name == descriptor.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateWorker, descriptor.Name)
		}
	}
	s.workers = append(s.workers, &managed{
		descriptor: descriptor,
		status: WorkerStatus{
			Name:         descriptor.Name,
			State:        StateUnstarted,
			PollInterval: descriptor.PollInterval,
			BatchSize:    descriptor.BatchSize,
		},
	})
	return nil
}

// StartAll launches every registered worker and returns without blocking.
// A supervisor starts at most once. Workers keep ctx values but not its
// cancellation: only StopAll cancels them, so in-flight ticks get the grace
// period.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUnstarted:
	case StateStopping, StateStopped:
		return ErrSupervisorStopped
	default:
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group := &errgroup.Group{}
	for _, w := range s.workers {
		w.setState(StateRunning)
		group.Go(func() error {
			s.loop(runCtx, w)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	s.cancel = cancel
	s.group = group
	s.done = done
	s.state = StateRunning

	s.logger.Info("workers started",
		"event", "worker_supervisor_started",
		"module", "internal/platform/worker",
		"layer", "platform",
		"worker_count", len(s.workers),
	)
	return nil
}

// StopAll cancels every worker and waits until they exit or ctx is done.
// Workers still running after the grace period are abandoned.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateUnstarted:
		s.mu.Unlock()
		return ErrNotStarted
	case StateStopped:
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cancel, done := s.cancel, s.done
	for _, w := range s.workers {
		w.setState(StateStopping)
	}
	s.mu.Unlock()

	cancel()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ErrStopTimeout
		s.logger.Warn("workers exceeded shutdown grace period",
			"event", "worker_supervisor_stop_timeout",
			"module", "internal/platform/worker",
			"layer", "platform",
			"running", s.runningNames(),
		)
	}

	s.mu.Lock()
	s.state = StateStopped
	for _, w := range s.workers {
		w.setState(StateStopped)
	}
	s.mu.Unlock()

	s.logger.Info("workers stopped",
		"event", "worker_supervisor_stopped",
		"module", "internal/platform/worker",
		"layer", "platform",
		"graceful", err == nil,
	)
	return err
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Snapshot() []WorkerStatus {
	s.mu.Lock()
	workers := append([]*managed(nil), s.workers...)
	s.mu.Unlock()

	statuses := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		w.mu.Lock()
		statuses = append(statuses, w.status)
		w.mu.Unlock()
	}
	return statuses
}

func (s *Supervisor) loop(ctx context.Context, w *managed) {
	logger := s.logger.With("worker", w.descriptor.Name)
	logger.Info("worker started",
		"event", "worker_started",
		"module", "internal/platform/worker",
		"layer", "platform",
		"poll_interval", w.descriptor.PollInterval.String(),
		"batch_size", w.descriptor.BatchSize,
	)

	defer w.markExited()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker exited",
				"event", "worker_exited",
				"module", "internal/platform/worker",
				"layer", "platform",
			)
			return
		case <-timer.C:
		}

		err := s.tick(ctx, w)
		w.recordTick(time.Now().UTC(), err)
		if err != nil && ctx.Err() == nil {
			logger.Error("worker tick failed",
				"event", "worker_tick_failed",
				"module", "internal/platform/worker",
				"layer", "platform",
				"error", err.Error(),
			)
		}
		timer.Reset(w.descriptor.PollInterval)
	}
}

func (s *Supervisor) tick(ctx context.Context, w *managed) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("worker %s panicked: %v", w.descriptor.Name, recovered)
			s.logger.Error("worker tick panicked",
				"event", "worker_tick_panicked",
				"module", "internal/platform/worker",
				"layer", "platform",
				"worker", w.descriptor.Name,
				"stack", string(debug.Stack()),
			)
		}
	}()
	return w.descriptor.Job.RunOnce(ctx)
}

func (s *Supervisor) runningNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.workers))
	for _, w := range s.workers {
		w.mu.Lock()
		if !w.exited {
			names = append(names, w.descriptor.Name)
		}
		w.mu.Unlock()
	}
	return names
}

func (w *managed) setState(state State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.State = state
}

func (w *managed) markExited() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exited = true
}

func (w *managed) recordTick(at time.Time, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Ticks++
	w.status.LastTickAt = at
	if err != nil {
		w.status.Failures++
		w.status.LastError = err.Error()
	}
}
