package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	outboxservice "bulwark/contexts/platform-reliability/outbox-service"
	oteladapter "bulwark/contexts/platform-reliability/outbox-service/adapters/otel"
	postgresadapter "bulwark/contexts/platform-reliability/outbox-service/adapters/postgres"
	"bulwark/contexts/platform-reliability/outbox-service/application/workers"
	"bulwark/internal/platform/cache"
	"bulwark/internal/platform/config"
	"bulwark/internal/platform/db"
	"bulwark/internal/platform/httpserver"
	"bulwark/internal/platform/messaging"
	"bulwark/internal/platform/middleware/correlation"
	"bulwark/internal/platform/middleware/idempotency"
	ratelimitapp "bulwark/internal/platform/middleware/ratelimit/application"
	"bulwark/internal/platform/middleware/ratelimit/domain"
	"bulwark/internal/platform/middleware/ratelimit/infra"
	"bulwark/internal/platform/worker"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const (
	moduleName     = "internal/app/bootstrap"
	janitorEvery   = time.Minute
	cleanupBatch   = 100
	retentionBatch = 1000
)

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	cache    *cache.Client
	local    *infra.LocalCounter
	grace    time.Duration
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres   *db.Postgres
	publisher  messaging.Publisher
	supervisor *worker.Supervisor
	grace      time.Duration
	logger     *slog.Logger
}

// BuildAPI wires the HTTP process. routes mount business handlers behind the
// shared middleware chain.
func BuildAPI(ctx context.Context, routes ...httpserver.RouteRegistrar) (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := NewLogger(cfg).With("service", cfg.ServiceName, "process", "api")
	pg, module, err := connectOutbox(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	redisClient := cache.NewClient(cacheConfig(cfg), logger)
	local := infra.NewLocalCounter(cfg.RateLimitLocalKeys)

	var limiter *ratelimitapp.Service
	if cfg.RateLimitEnabled {
		table, err := policyTable(cfg)
		if err != nil {
			_ = redisClient.Close()
			_ = pg.Close()
			return nil, err
		}
		logPolicies(logger, table)
		limiter = &ratelimitapp.Service{
			Policies: table,
			Primary:  infra.RedisCounter{Client: redisClient},
			Fallback: local,
			Logger:   logger,
		}
	}

	server := httpserver.New(httpserver.Options{
		Addr:               normalizeAddr(cfg.HTTPPort),
		Outbox:             module,
		RateLimit:          limiter,
		TrustXForwardedFor: cfg.TrustXForwardedFor,
		Idempotency:        idempotency.RedisStore{Client: redisClient},
		IdempotencyTTL:     cfg.IdempotencyTTL,
		IdempotencyStrict:  cfg.IdempotencyStrict,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "postgres", Check: pg.Ping},
			{Name: "redis", Optional: true, Check: redisClient.Ping},
		},
		Routes: routes,
		Logger: logger,
	})

	return &APIApp{
		server:   server,
		postgres: pg,
		cache:    redisClient,
		local:    local,
		grace:    cfg.ShutdownGrace,
		logger:   logger,
	}, nil
}

func BuildWorker(ctx context.Context) (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := NewLogger(cfg).With("service", cfg.ServiceName, "process", "worker")
	pg, module, err := connectOutbox(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := messaging.NewPublisher(messaging.Config{
		Driver:  cfg.MessagingDriver,
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	}, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	metrics, err := oteladapter.NewMetrics(nil)
	if err != nil {
		_ = publisher.Close()
		_ = pg.Close()
		return nil, err
	}

	relay := module.Relay(outboxservice.RelayOptions{
		Publisher:         publisher,
		Metrics:           metrics,
		SourceService:     cfg.ServiceName,
		BatchSize:         cfg.OutboxBatchSize,
		ProcessingTimeout: cfg.OutboxProcessingTimeout,
	})
	cleanup := module.OutboxCleanup(cfg.RetentionOutbox, metrics)
	sweep := module.RetentionSweep([]workers.RetentionPolicy{
		{
			Target: postgresadapter.TableRetention{
				DB:             pg.DB,
				Target:         "notifications",
				Table:          "notifications",
				TimeColumn:     "created_at",
				TerminalFilter: "status = ?",
				FilterArgs:     []any{"delivered"},
				BatchSize:      retentionBatch,
			},
			Retention: cfg.RetentionNotifications,
		},
		{
			Target: postgresadapter.TableRetention{
				DB:         pg.DB,
				Target:     "recommendation_snapshots",
				Table:      "recommendation_snapshots",
				TimeColumn: "created_at",
				BatchSize:  retentionBatch,
			},
			Retention: cfg.RetentionRecommendations,
		},
	}, metrics)

	supervisor := worker.NewSupervisor(logger)
	descriptors := []worker.Descriptor{
		{Name: "outbox-relay", PollInterval: cfg.OutboxPollInterval, BatchSize: cfg.OutboxBatchSize, Job: relay},
		{Name: "outbox-cleanup", PollInterval: cfg.OutboxCleanupInterval, BatchSize: cleanupBatch, Job: cleanup},
		{Name: "retention-sweep", PollInterval: cfg.RetentionSweepInterval, BatchSize: retentionBatch, Job: sweep},
	}
	for _, descriptor := range descriptors {
		if err := supervisor.Register(descriptor); err != nil {
			_ = publisher.Close()
			_ = pg.Close()
			return nil, err
		}
	}

	return &WorkerApp{
		postgres:   pg,
		publisher:  publisher,
		supervisor: supervisor,
		grace:      cfg.ShutdownGrace,
		logger:     logger,
	}, nil
}

func (a *APIApp) Run(ctx context.Context) error {
	a.local.StartJanitor(ctx, janitorEvery)
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", moduleName,
		"layer", "platform",
	)
	return a.server.Run(ctx, a.grace)
}

func (a *APIApp) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.postgres != nil {
		errs = append(errs, a.postgres.Close())
	}
	return errors.Join(errs...)
}

// Run starts every registered worker and blocks until ctx is cancelled, then
// stops them within the shutdown grace period.
func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.supervisor.StartAll(ctx); err != nil {
		return err
	}
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", moduleName,
		"layer", "platform",
		"workers", len(w.supervisor.Snapshot()),
	)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), w.grace)
	defer cancel()
	if err := w.supervisor.StopAll(stopCtx); err != nil {
		return err
	}
	w.logger.Info("worker app stopped",
		"event", "bootstrap_worker_stopped",
		"module", moduleName,
		"layer", "platform",
	)
	return nil
}

func (w *WorkerApp) Close() error {
	var errs []error
	if w.publisher != nil {
		errs = append(errs, w.publisher.Close())
	}
	if w.postgres != nil {
		errs = append(errs, w.postgres.Close())
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL and
// installs it as the slog default.
func NewLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func connectOutbox(ctx context.Context, cfg config.Config, logger *slog.Logger) (*db.Postgres, outboxservice.Module, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, outboxservice.Module{}, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(ctx, cfg.PostgresDSN, db.PoolConfig{})
	if err != nil {
		return nil, outboxservice.Module{}, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	if cfg.DBAutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, outboxservice.Module{}, err
		}
	}

	module := outboxservice.NewModule(outboxservice.Dependencies{
		Repository:  repo,
		Clock:       postgresadapter.SystemClock{},
		IDGenerator: postgresadapter.UUIDGenerator{},
		Correlation: correlation.Resolver{},
		MaxAttempts: cfg.OutboxMaxAttempts,
		Logger:      logger,
	})
	return pg, module, nil
}

func cacheConfig(cfg config.Config) cache.Config {
	return cache.Config{
		Addr:           cfg.RedisAddr,
		Password:       cfg.RedisPassword,
		DB:             cfg.RedisDB,
		Timeout:        cfg.RedisTimeout,
		BreakerTimeout: cfg.RedisBreakerTimeout,
	}
}

func policyTable(cfg config.Config) (domain.PolicyTable, error) {
	ordered := make([]domain.Policy, 0, len(cfg.RateLimitPolicies))
	for _, policy := range cfg.RateLimitPolicies {
		ordered = append(ordered, toDomainPolicy(policy))
	}
	return domain.NewPolicyTable(toDomainPolicy(cfg.RateLimitDefault), ordered...)
}

func logPolicies(logger *slog.Logger, table domain.PolicyTable) {
	for position, policy := range table.Policies() {
		logger.Info("rate limit policy loaded",
			"event", "ratelimit_policy_loaded",
			"module", moduleName,
			"layer", "platform",
			"position", position,
			"class", policy.Class,
			"limit", policy.Limit,
			"window", policy.Window.String(),
			"prefixes", policy.Prefixes,
		)
	}
}

func toDomainPolicy(policy config.RatePolicy) domain.Policy {
	return domain.Policy{
		Class:    policy.Class,
		Prefixes: append([]string(nil), policy.Prefixes...),
		Limit:    policy.Limit,
		Window:   policy.Window,
	}
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
