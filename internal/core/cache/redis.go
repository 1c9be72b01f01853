package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stdlens/stdlens/internal/core"
)

const defaultRedisPrefix = "stdlens:cache:"

// RedisConfig describes how to reach a shared Redis cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis stores entries in Redis so several processes can share one cache.
// Redis expiry mirrors the entry TTL; freshness is still checked on read.
type Redis struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisFromClient(client, cfg.Prefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Lookup fetches and verifies an entry. Undecodable entries are deleted and reported
// as ErrCorrupt; an entry stored under a colliding hash is a miss.
func (r *Redis) Lookup(ctx context.Context, key string) (*core.CacheEntry, error) {
	storageKey := r.storageKey(key)
	raw, err := r.client.Get(ctx, storageKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry core.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = r.client.Del(ctx, storageKey).Err()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if entry.Key != key {
		// 64-bit hash collision; the slot belongs to another request.
		return nil, nil
	}
	if !entry.FreshAt(r.clock()) {
		return nil, nil
	}
	return &entry, nil
}

// Store writes the entry with a Redis expiry equal to its remaining lifetime.
func (r *Redis) Store(ctx context.Context, entry *core.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return errors.New("cache entry key is required")
	}
	remaining := entry.ExpiresAt().Sub(r.clock())
	if remaining <= 0 {
		return nil
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.storageKey(entry.Key), payload, remaining).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete drops key if present.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.storageKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) storageKey(key string) string {
	return r.prefix + strconv.FormatUint(xxhash.Sum64String(key), 16)
}
