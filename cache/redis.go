package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a DurableStore backed by a Redis hash, one hash per cache
// namespace. It is the server-side stand-in for a browser's durable
// storage: entries survive process restarts and are shared by every
// process pointing at the same Redis.
type RedisStore struct {
	client  redis.UniversalClient
	hashKey string
}

// NewRedisStore creates a store under the name/version namespace.
// The client is borrowed; closing it is the caller's concern.
func NewRedisStore(client redis.UniversalClient, name, version string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("cache: nil redis client")
	}
	return &RedisStore{
		client:  client,
		hashKey: fmt.Sprintf("queryops:cache:%s:%s", name, version),
	}, nil
}

// GetAll loads every persisted entry in the namespace. Entries that fail to
// decode are skipped rather than failing the whole bootstrap.
func (s *RedisStore) GetAll(ctx context.Context) ([]PersistedEntry, error) {
	fields, err := s.client.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: redis HGETALL %s: %w", s.hashKey, err)
	}

	entries := make([]PersistedEntry, 0, len(fields))
	for _, raw := range fields {
		var p PersistedEntry
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		entries = append(entries, p)
	}
	return entries, nil
}

// Store persists one entry, replacing any previous one for the key.
func (s *RedisStore) Store(ctx context.Context, entry PersistedEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal persisted entry: %w", err)
	}
	if err := s.client.HSet(ctx, s.hashKey, entry.Key, data).Err(); err != nil {
		return fmt.Errorf("cache: redis HSET %s: %w", s.hashKey, err)
	}
	return nil
}

// Remove deletes the entry for the key. Idempotent.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.hashKey, key).Err(); err != nil {
		return fmt.Errorf("cache: redis HDEL %s: %w", s.hashKey, err)
	}
	return nil
}

// Ensure RedisStore implements DurableStore
var _ DurableStore = (*RedisStore)(nil)
