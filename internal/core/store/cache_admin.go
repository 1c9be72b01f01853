package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CacheRecord describes a stored response without its body.
type CacheRecord struct {
	Key        string    `json:"key"`
	StatusCode int       `json:"status_code"`
	Size       int64     `json:"size"`
	StoredAt   time.Time `json:"stored_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// CacheStats summarizes the response cache table.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Expired   int   `json:"expired"`
	BodyBytes int64 `json:"body_bytes"`
}

// CacheQuery selects cached responses. Prefix matches the start of the cache key,
// e.g. "GET /drug/label".
type CacheQuery struct {
	All     bool
	Expired bool
	Prefix  string
}

func (q CacheQuery) Validate() error {
	if q.All || q.Expired || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --expired, or --prefix")
}

func (q CacheQuery) whereClause(now time.Time) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}

	var (
		clauses []string
		args    []any
	)
	if q.Expired {
		clauses = append(clauses, "expires_at <= ?")
		args = append(args, now.UnixMilli())
	}
	if prefix := strings.TrimSpace(q.Prefix); prefix != "" {
		clauses = append(clauses, "substr(key, 1, ?) = ?")
		args = append(args, len(prefix), prefix)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

// ListCacheEntries returns matching entries, most recently stored first.
func (s *Store) ListCacheEntries(ctx context.Context, q CacheQuery, limit int) ([]CacheRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause(s.now())
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, status_code, length(body), stored_at, expires_at, accessed_at
		FROM api_cache
		%s
		ORDER BY stored_at DESC, key
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []CacheRecord{}
	for rows.Next() {
		var (
			record                        CacheRecord
			storedAt, expiresAt, accessed int64
		)
		if err := rows.Scan(&record.Key, &record.StatusCode, &record.Size, &storedAt, &expiresAt, &accessed); err != nil {
			return nil, fmt.Errorf("scan cache entries: %w", err)
		}
		record.StoredAt = time.UnixMilli(storedAt).UTC()
		record.ExpiresAt = time.UnixMilli(expiresAt).UTC()
		record.AccessedAt = time.UnixMilli(accessed).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	return records, nil
}

// CountCacheEntries counts entries matching the query.
func (s *Store) CountCacheEntries(ctx context.Context, q CacheQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause(s.now())
	if err != nil {
		return 0, err
	}

	var count int
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM api_cache %s`, where), args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return count, nil
}

// PurgeCacheEntries deletes matching entries and reports how many were removed.
func (s *Store) PurgeCacheEntries(ctx context.Context, q CacheQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause(s.now())
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM api_cache %s`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	return affected, nil
}

// CacheStatistics reports entry counts and stored body size.
func (s *Store) CacheStatistics(ctx context.Context) (CacheStats, error) {
	if s == nil || s.DB == nil {
		return CacheStats{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var stats CacheStats
	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(length(body)), 0)
		FROM api_cache
	`, s.now().UnixMilli())
	if err := row.Scan(&stats.Entries, &stats.Expired, &stats.BodyBytes); err != nil {
		return CacheStats{}, fmt.Errorf("cache statistics: %w", err)
	}
	return stats, nil
}
