package outboxservice

import (
	"log/slog"
	"time"

	"bulwark/contexts/platform-reliability/outbox-service/adapters/memory"
	"bulwark/contexts/platform-reliability/outbox-service/application"
	"bulwark/contexts/platform-reliability/outbox-service/application/workers"
	"bulwark/contexts/platform-reliability/outbox-service/ports"
)

// Module is the composition surface for the outbox within bulwark.
// Store is only set by NewInMemoryModule.
type Module struct {
	Service application.Service
	Store   *memory.Store
}

type Dependencies struct {
	Repository  ports.Repository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Correlation ports.CorrelationResolver
	MaxAttempts int
	Logger      *slog.Logger
}

type RelayOptions struct {
	Publisher         ports.EventPublisher
	Metrics           ports.Metrics
	SourceService     string
	BatchSize         int
	ProcessingTimeout time.Duration
}

func NewModule(deps Dependencies) Module {
	return Module{
		Service: application.Service{
			Repo:        deps.Repository,
			Clock:       deps.Clock,
			IDGenerator: deps.IDGenerator,
			Correlation: deps.Correlation,
			MaxAttempts: deps.MaxAttempts,
			Logger:      deps.Logger,
		},
	}
}

// NewInMemoryModule wires the outbox against the in-memory store for local
// runs and tests.
func NewInMemoryModule(maxAttempts int, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Repository:  store,
		Clock:       store,
		IDGenerator: store,
		MaxAttempts: maxAttempts,
		Logger:      logger,
	})
	module.Store = store
	return module
}

func (m Module) Relay(options RelayOptions) workers.OutboxRelay {
	return workers.OutboxRelay{
		Outbox:            m.Service,
		Publisher:         options.Publisher,
		Metrics:           options.Metrics,
		SourceService:     options.SourceService,
		BatchSize:         options.BatchSize,
		ProcessingTimeout: options.ProcessingTimeout,
		Logger:            m.Service.Logger,
	}
}

// OutboxCleanup is the hourly sweep of processed outbox events.
func (m Module) OutboxCleanup(retention time.Duration, metrics ports.Metrics) workers.RetentionSweeper {
	return workers.RetentionSweeper{
		Policies: []workers.RetentionPolicy{
			{Target: workers.OutboxRetention{Outbox: m.Service}, Retention: retention},
		},
		Clock:   m.Service.Clock,
		Metrics: metrics,
		Logger:  m.Service.Logger,
	}
}

// RetentionSweep covers bounded collections owned outside the outbox.
func (m Module) RetentionSweep(policies []workers.RetentionPolicy, metrics ports.Metrics) workers.RetentionSweeper {
	return workers.RetentionSweeper{
		Policies: policies,
		Clock:    m.Service.Clock,
		Metrics:  metrics,
		Logger:   m.Service.Logger,
	}
}
