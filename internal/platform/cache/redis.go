// Package cache owns the shared key-value store used for admission counters
// and replay records. Every call runs behind a circuit breaker; callers treat
// ErrUnavailable as a signal to degrade, never to fail the request.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var ErrUnavailable = errors.New("shared store unavailable")

type Config struct {
	Addr                string
	Password            string
	DB                  int
	Timeout             time.Duration
	BreakerTimeout      time.Duration
	ConsecutiveFailures uint32
}

type Client struct {
	rdb      redis.UniversalClient
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
	logger   *slog.Logger
	degraded rate.Sometimes
}

// NewClient does not contact the server; a store that is down at startup is
// a degraded mode, not a startup failure.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
	})
	return Wrap(rdb, cfg, logger)
}

// Wrap guards an existing client.
func Wrap(rdb redis.UniversalClient, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 10 * time.Second
	}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 3
	}

	c := &Client{
		rdb:      rdb,
		timeout:  timeout,
		logger:   logger,
		degraded: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("shared store circuit breaker changed state",
				"event", "cache_breaker_state_changed",
				"module", "internal/platform/cache",
				"layer", "platform",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return c
}

// Do runs fn against the store with the per-call timeout. redis.Nil passes
// through untouched; every other failure is wrapped in ErrUnavailable.
func (c *Client) Do(ctx context.Context, operation string, fn func(ctx context.Context, rdb redis.Cmdable) error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return nil, fn(callCtx, c.rdb)
	})
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}

	c.degraded.Do(func() {
		c.logger.Warn("shared store call failed, degrading",
			"event", "cache_degraded",
			"module", "internal/platform/cache",
			"layer", "platform",
			"operation", operation,
			"breaker_state", c.breaker.State().String(),
			"error", err.Error(),
		)
	})
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, operation, err)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Do(ctx, "ping", func(ctx context.Context, rdb redis.Cmdable) error {
		return rdb.Ping(ctx).Err()
	})
}

// Available reports whether the breaker currently lets calls through.
func (c *Client) Available() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
