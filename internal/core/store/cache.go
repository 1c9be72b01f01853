package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stdlens/stdlens/internal/core"
	"github.com/stdlens/stdlens/internal/core/cache"
)

// GetCachedResponse returns a cached response if it is still valid.
func (s *Store) GetCachedResponse(ctx context.Context, key string) (*core.CacheEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("cache key is required")
	}

	var (
		statusCode  int
		headersJSON sql.NullString
		body        []byte
		storedAt    int64
		expiresAt   int64
	)

	now := s.now()
	row := s.DB.QueryRowContext(ctx, `
		SELECT status_code, headers, body, stored_at, expires_at
		FROM api_cache
		WHERE key = ? AND expires_at > ?
	`, key, now.UnixMilli())

	if err := row.Scan(&statusCode, &headersJSON, &body, &storedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch cached response: %w", err)
	}

	var headers http.Header
	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &headers); err != nil {
			return nil, fmt.Errorf("%w: decode headers for %s: %v", cache.ErrCorrupt, key, err)
		}
	}

	if _, err := s.DB.ExecContext(ctx, `UPDATE api_cache SET accessed_at = ? WHERE key = ?`, now.UnixMilli(), key); err != nil {
		return nil, fmt.Errorf("touch cached response: %w", err)
	}

	stored := time.UnixMilli(storedAt).UTC()
	return &core.CacheEntry{
		Key:        key,
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		StoredAt:   stored,
		TTL:        time.UnixMilli(expiresAt).Sub(stored),
	}, nil
}

// SetCachedResponse upserts a response, then trims the table to maxEntries
// by dropping expired rows and the least recently accessed ones.
func (s *Store) SetCachedResponse(ctx context.Context, entry *core.CacheEntry, maxEntries int) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if entry == nil || entry.TTL <= 0 {
		return nil
	}

	key := strings.TrimSpace(entry.Key)
	if key == "" {
		return errors.New("cache key is required")
	}

	headersJSON, err := json.Marshal(entry.Headers)
	if err != nil {
		return fmt.Errorf("encode cached headers: %w", err)
	}

	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = s.now()
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO api_cache (key, status_code, headers, body, stored_at, expires_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status_code = excluded.status_code,
			headers = excluded.headers,
			body = excluded.body,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at,
			accessed_at = excluded.accessed_at
	`, key, entry.StatusCode, string(headersJSON), body, storedAt.UnixMilli(), storedAt.Add(entry.TTL).UnixMilli(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store cached response: %w", err)
	}

	if maxEntries > 0 {
		if err := s.evictCachedResponses(ctx, maxEntries); err != nil {
			return err
		}
	}

	return nil
}

// DeleteCachedResponse removes a single entry.
func (s *Store) DeleteCachedResponse(ctx context.Context, key string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM api_cache WHERE key = ?`, strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("delete cached response: %w", err)
	}
	return nil
}

func (s *Store) evictCachedResponses(ctx context.Context, maxEntries int) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM api_cache WHERE expires_at <= ?`, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("evict expired responses: %w", err)
	}

	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM api_cache
		WHERE key IN (
			SELECT key FROM api_cache
			ORDER BY accessed_at DESC, stored_at DESC
			LIMIT -1 OFFSET ?
		)
	`, maxEntries)
	if err != nil {
		return fmt.Errorf("evict least recently used responses: %w", err)
	}
	return nil
}

// ResponseCache adapts a Store to the cache.Cache interface.
// Closing it leaves the underlying Store open; the Store's owner closes it.
type ResponseCache struct {
	Backend    *Store
	MaxEntries int
}

var _ cache.Cache = (*ResponseCache)(nil)

// Lookup implements cache.Cache.
func (c *ResponseCache) Lookup(ctx context.Context, key string) (*core.CacheEntry, error) {
	return c.Backend.GetCachedResponse(ctx, key)
}

// Store implements cache.Cache.
func (c *ResponseCache) Store(ctx context.Context, entry *core.CacheEntry) error {
	return c.Backend.SetCachedResponse(ctx, entry, c.MaxEntries)
}

// Delete implements cache.Cache.
func (c *ResponseCache) Delete(ctx context.Context, key string) error {
	return c.Backend.DeleteCachedResponse(ctx, key)
}

// Close implements cache.Cache.
func (c *ResponseCache) Close() error {
	return nil
}
