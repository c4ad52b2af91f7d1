// Package redis is the Redis store. Documents go through grove's KV layer;
// indexes are sorted sets and sets on the underlying client. Deliveries are
// hashes mutated by Lua scripts so claims stay atomic across processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	heraldstore "github.com/xraph/herald/store"
)

var _ heraldstore.Store = (*Store)(nil)

// Store implements store.Store on Redis.
type Store struct {
	kv  *kv.Store
	rdb goredis.UniversalClient
}

// New returns a Store over a grove KV store using the redis driver.
func New(store *kv.Store) *Store {
	return &Store{
		kv:  store,
		rdb: redisdriver.UnwrapClient(store),
	}
}

// NewWithClient returns a Store that talks to rdb directly.
func NewWithClient(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Migrate is a no-op; Redis has no schema.
func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Ping(ctx context.Context) error {
	if s.kv != nil {
		return s.kv.Ping(ctx)
	}
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	if s.kv != nil {
		return s.kv.Close()
	}
	return s.rdb.Close()
}

func now() time.Time {
	return time.Now().UTC()
}

// score maps a time onto a sorted set score with microsecond precision.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func isNotFound(err error) bool {
	return errors.Is(err, kv.ErrNotFound) || errors.Is(err, goredis.Nil)
}

func (s *Store) getEntity(ctx context.Context, key string, dest any) error {
	var (
		raw []byte
		err error
	)
	if s.kv != nil {
		raw, err = s.kv.GetRaw(ctx, key)
	} else {
		raw, err = s.rdb.Get(ctx, key).Bytes()
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (s *Store) setEntity(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("herald/redis: marshal entity: %w", err)
	}
	if s.kv != nil {
		return s.kv.SetRaw(ctx, key, raw)
	}
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

// newestFirst returns the members of a sorted set from highest score down.
func (s *Store) newestFirst(ctx context.Context, key string) ([]string, error) {
	return s.rdb.ZRevRange(ctx, key, 0, -1).Result()
}
