package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	HTTPPort    string
	LogFormat   string
	LogLevel    string

	PostgresDSN   string
	DBAutoMigrate bool

	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisTimeout        time.Duration
	RedisBreakerTimeout time.Duration

	MessagingDriver string
	KafkaBrokers    []string
	KafkaTopic      string

	OutboxMaxAttempts       int
	OutboxBatchSize         int
	OutboxPollInterval      time.Duration
	OutboxProcessingTimeout time.Duration
	OutboxCleanupInterval   time.Duration
	RetentionSweepInterval  time.Duration

	RetentionOutbox          time.Duration
	RetentionNotifications   time.Duration
	RetentionRecommendations time.Duration

	RateLimitEnabled   bool
	RateLimitPolicies  []RatePolicy
	RateLimitDefault   RatePolicy
	RateLimitLocalKeys int
	TrustXForwardedFor bool

	IdempotencyTTL    time.Duration
	IdempotencyStrict bool

	ShutdownGrace time.Duration
}

// RatePolicy is one row of the route-class policy table.
type RatePolicy struct {
	Class    string
	Prefixes []string
	Limit    int
	Window   time.Duration
}

func Load() (Config, error) {
	var errs []error

	cfg := Config{
		ServiceName: envString("SERVICE_NAME", "bulwark"),
		HTTPPort:    envString("HTTP_PORT", "8080"),
		LogFormat:   strings.ToLower(envString("LOG_FORMAT", "json")),
		LogLevel:    strings.ToLower(envString("LOG_LEVEL", "info")),

		PostgresDSN:   strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		DBAutoMigrate: envBool("DB_AUTO_MIGRATE", false),

		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		MessagingDriver: strings.ToLower(envString("MESSAGING_DRIVER", "kafka-go")),
		KafkaBrokers:    envList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:      envString("KAFKA_TOPIC", "domain-events"),

		RateLimitEnabled:   envBool("RATE_LIMIT_ENABLED", true),
		TrustXForwardedFor: envBool("TRUST_XFF", false),
		IdempotencyStrict:  envBool("IDEMPOTENCY_STRICT", false),
	}

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.RedisDB, err = envInt("REDIS_DB", 0)
	collect(err)
	cfg.RedisTimeout, err = envDuration("REDIS_TIMEOUT", 250*time.Millisecond)
	collect(err)
	cfg.RedisBreakerTimeout, err = envDuration("REDIS_BREAKER_TIMEOUT", 10*time.Second)
	collect(err)

	cfg.OutboxMaxAttempts, err = envInt("OUTBOX_MAX_ATTEMPTS", 5)
	collect(err)
	cfg.OutboxBatchSize, err = envInt("OUTBOX_BATCH_SIZE", 100)
	collect(err)
	cfg.OutboxPollInterval, err = envDuration("OUTBOX_POLL_INTERVAL", 2*time.Second)
	collect(err)
	cfg.OutboxProcessingTimeout, err = envDuration("OUTBOX_PROCESSING_TIMEOUT", 10*time.Minute)
	collect(err)
	cfg.OutboxCleanupInterval, err = envDuration("OUTBOX_CLEANUP_INTERVAL", time.Hour)
	collect(err)
	cfg.RetentionSweepInterval, err = envDuration("RETENTION_SWEEP_INTERVAL", 24*time.Hour)
	collect(err)

	cfg.RetentionOutbox, err = envDays("RETENTION_OUTBOX_DAYS", 7)
	collect(err)
	cfg.RetentionNotifications, err = envDays("RETENTION_NOTIFICATIONS_DAYS", 60)
	collect(err)
	cfg.RetentionRecommendations, err = envDays("RETENTION_RECOMMENDATIONS_DAYS", 7)
	collect(err)

	auth, err := envPolicy("RATE_LIMIT_AUTH", "auth", "10/1m")
	collect(err)
	auth.Prefixes = envList("RATE_LIMIT_AUTH_PREFIXES", []string{"/auth/", "/api/auth/"})
	ai, err := envPolicy("RATE_LIMIT_AI", "ai", "20/1m")
	collect(err)
	ai.Prefixes = envList("RATE_LIMIT_AI_PREFIXES", []string{"/ai/", "/api/ai/"})
	cfg.RateLimitPolicies = []RatePolicy{auth, ai}
	cfg.RateLimitDefault, err = envPolicy("RATE_LIMIT_DEFAULT", "default", "100/1m")
	collect(err)
	cfg.RateLimitLocalKeys, err = envInt("RATE_LIMIT_LOCAL_MAX_KEYS", 10000)
	collect(err)

	cfg.IdempotencyTTL, err = envDuration("IDEMPOTENCY_TTL", 24*time.Hour)
	collect(err)
	cfg.ShutdownGrace, err = envDuration("SHUTDOWN_GRACE", 15*time.Second)
	collect(err)

	if cfg.OutboxMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be positive, got %d", cfg.OutboxMaxAttempts))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParsePolicy reads "<limit>/<window>", e.g. "5/60s" or "100/1m".
func ParsePolicy(class string, raw string) (RatePolicy, error) {
	limitText, windowText, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return RatePolicy{}, fmt.Errorf("rate policy %s: expected <limit>/<window>, got %q", class, raw)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitText))
	if err != nil || limit <= 0 {
		return RatePolicy{}, fmt.Errorf("rate policy %s: invalid limit %q", class, limitText)
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowText))
	if err != nil || window < time.Second {
		return RatePolicy{}, fmt.Errorf("rate policy %s: invalid window %q", class, windowText)
	}
	return RatePolicy{Class: class, Limit: limit, Window: window}, nil
}

func envString(name string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", name, raw)
	}
	return value, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", name, raw)
	}
	return value, nil
}

func envDays(name string, fallback int) (time.Duration, error) {
	days, err := envInt(name, fallback)
	if err != nil {
		return 0, err
	}
	if days <= 0 {
		return 0, fmt.Errorf("%s: retention days must be positive, got %d", name, days)
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

func envList(name string, fallback []string) []string {
	var items []string
	for _, value := range strings.Split(os.Getenv(name), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			items = append(items, value)
		}
	}
	if len(items) == 0 {
		return append([]string(nil), fallback...)
	}
	return items
}

func envPolicy(name string, class string, fallback string) (RatePolicy, error) {
	return ParsePolicy(class, envString(name, fallback))
}
