// Package redisstore provides a Redis-backed sensor cursor store.
//
// Cursors live in a single hash keyed by sensor name. The hash key is
// "<prefix>:sensor_cursors". Values are opaque cursor strings; decoding and
// validation belong to the evaluator.
//
// Tick records are never written here. A driver using this backend records
// the tick in SQLite first and persists the cursor afterwards, so a crash
// between the two replays the tick's event instead of losing it.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/henriblancke/dagster/internal/store"
)

// DefaultPrefix namespaces keys when Options.Prefix is empty.
const DefaultPrefix = "sensord"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store implements sensor.CursorStore on a Redis hash.
type Store struct {
	client redis.UniversalClient
	key    string
}

// New connects to the Redis server described by opts. The connection is
// established lazily on the first command; use Ping to check it eagerly.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix)
}

// NewWithClient wraps an existing client. The Store takes ownership of it:
// Close closes the client.
func NewWithClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, key: prefix + ":sensor_cursors"}
}

// Key returns the hash key holding the cursors.
func (s *Store) Key() string { return s.key }

// Cursor implements sensor.CursorStore.
func (s *Store) Cursor(ctx context.Context, sensorName string) (string, bool, error) {
	val, err := s.client.HGet(ctx, s.key, sensorName).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cursor %s: %w", sensorName, err)
	}
	return val, true, nil
}

// PutCursor implements sensor.CursorStore.
func (s *Store) PutCursor(ctx context.Context, sensorName, cursor string) error {
	if err := s.client.HSet(ctx, s.key, sensorName, cursor).Err(); err != nil {
		return fmt.Errorf("put cursor %s: %w", sensorName, err)
	}
	return nil
}

// DeleteCursor removes the cursor of a sensor. Returns an error wrapping
// store.ErrNotFound when none is stored.
func (s *Store) DeleteCursor(ctx context.Context, sensorName string) error {
	n, err := s.client.HDel(ctx, s.key, sensorName).Result()
	if err != nil {
		return fmt.Errorf("delete cursor %s: %w", sensorName, err)
	}
	if n == 0 {
		return fmt.Errorf("delete cursor %s: %w", sensorName, store.ErrNotFound)
	}
	return nil
}

// Cursors returns every stored cursor keyed by sensor name.
func (s *Store) Cursors(ctx context.Context) (map[string]string, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	return all, nil
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
