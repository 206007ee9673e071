package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces keys in a shared Redis database.
const DefaultRedisPrefix = "benchtrail:"

const redisScanCount = 256

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps one string value per key, written with SETNX.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	err := client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("redis cache: ping %s: %w", opts.Addr, err)
	}

	return NewRedisStoreFromClient(client, opts.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k Key) string {
	return s.prefix + k.Revision + ":" + k.Benchmark
}

// Has reports whether the key exists.
func (s *RedisStore) Has(ctx context.Context, key Key) (bool, error) {
	err := key.Validate()
	if err != nil {
		return false, err
	}

	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis cache: exists %s: %w", key, err)
	}

	return n > 0, nil
}

// Write stores the entry only if the key is free.
func (s *RedisStore) Write(ctx context.Context, entry *Entry) error {
	key := entry.Key()

	err := key.Validate()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis cache: encode %s: %w", key, err)
	}

	created, err := s.client.SetNX(ctx, s.key(key), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("redis cache: setnx %s: %w", key, err)
	}

	if !created {
		return exists(key)
	}

	return nil
}

// Read fetches and decodes the entry.
func (s *RedisStore) Read(ctx context.Context, key Key) (*Entry, error) {
	err := key.Validate()
	if err != nil {
		return nil, err
	}

	payload, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(key)
	}

	if err != nil {
		return nil, fmt.Errorf("redis cache: get %s: %w", key, err)
	}

	var entry Entry

	err = json.Unmarshal(payload, &entry)
	if err != nil {
		return Failed(key, Failure{Kind: FailureCorrupt, Message: err.Error()}), nil
	}

	return &entry, nil
}

// Clear deletes the key.
func (s *RedisStore) Clear(ctx context.Context, key Key) error {
	err := key.Validate()
	if err != nil {
		return err
	}

	err = s.client.Del(ctx, s.key(key)).Err()
	if err != nil {
		return fmt.Errorf("redis cache: del %s: %w", key, err)
	}

	return nil
}

// List scans the prefix.
func (s *RedisStore) List(ctx context.Context) ([]Key, error) {
	var keys []Key

	iter := s.client.Scan(ctx, 0, s.prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		rev, benchmark, ok := strings.Cut(strings.TrimPrefix(iter.Val(), s.prefix), ":")
		if !ok {
			continue
		}

		keys = append(keys, Key{Revision: rev, Benchmark: benchmark})
	}

	err := iter.Err()
	if err != nil {
		return nil, fmt.Errorf("redis cache: scan: %w", err)
	}

	slices.SortFunc(keys, compareKeys)

	return slices.Compact(keys), nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
