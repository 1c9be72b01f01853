package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS api_cache (
		key TEXT PRIMARY KEY,
		status_code INTEGER NOT NULL,
		headers TEXT,
		body BLOB NOT NULL,
		stored_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		accessed_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_api_cache_expires ON api_cache(expires_at);`,
	`CREATE INDEX IF NOT EXISTS idx_api_cache_accessed ON api_cache(accessed_at);`,
	`CREATE TABLE IF NOT EXISTS rate_budgets (
		endpoint TEXT PRIMARY KEY,
		capacity REAL NOT NULL,
		available REAL NOT NULL,
		refill_per_second REAL NOT NULL,
		last_refill INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
