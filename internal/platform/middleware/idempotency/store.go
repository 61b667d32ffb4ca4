package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"bulwark/internal/platform/cache"

	"github.com/redis/go-redis/v9"
)

// Record is a stored 2xx response, replayed verbatim for a repeated key.
type Record struct {
	Status      int         `json:"status"`
	Header      http.Header `json:"header"`
	Body        []byte      `json:"body"`
	ContentType string      `json:"content_type"`
	RequestHash string      `json:"request_hash"`
	StoredAt    time.Time   `json:"stored_at"`
}

type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	// PutIfAbsent never overwrites a live record.
	PutIfAbsent(ctx context.Context, key string, record Record, ttl time.Duration) (bool, error)
}

type RedisStore struct {
	Client *cache.Client
}

func (s RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var raw []byte
	err := s.Client.Do(ctx, "idempotency_get", func(ctx context.Context, rdb redis.Cmdable) error {
		var err error
		raw, err = rdb.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

func (s RedisStore) PutIfAbsent(ctx context.Context, key string, record Record, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	var stored bool
	err = s.Client.Do(ctx, "idempotency_put", func(ctx context.Context, rdb redis.Cmdable) error {
		var err error
		stored, err = rdb.SetNX(ctx, key, raw, ttl).Result()
		return err
	})
	return stored, err
}
