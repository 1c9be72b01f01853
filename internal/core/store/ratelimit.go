package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stdlens/stdlens/internal/core"
)

// GetRateBudget returns the stored token bucket snapshot for an endpoint.
func (s *Store) GetRateBudget(ctx context.Context, endpoint string) (*core.RateBudget, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	var (
		capacity  float64
		available float64
		refill    float64
		last      int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT capacity, available, refill_per_second, last_refill
		FROM rate_budgets
		WHERE endpoint = ?
	`, endpoint)

	if err := row.Scan(&capacity, &available, &refill, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate budget: %w", err)
	}

	return &core.RateBudget{
		Endpoint:        endpoint,
		Capacity:        capacity,
		Available:       available,
		RefillPerSecond: refill,
		LastRefill:      time.UnixMilli(last).UTC(),
	}, nil
}

// SaveRateBudget persists a token bucket snapshot for an endpoint.
func (s *Store) SaveRateBudget(ctx context.Context, budget *core.RateBudget) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if budget == nil {
		return errors.New("rate budget is required")
	}
	endpoint := strings.TrimSpace(budget.Endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_budgets (endpoint, capacity, available, refill_per_second, last_refill, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			capacity = excluded.capacity,
			available = excluded.available,
			refill_per_second = excluded.refill_per_second,
			last_refill = excluded.last_refill,
			updated_at = excluded.updated_at
	`, endpoint, budget.Capacity, budget.Available, budget.RefillPerSecond, budget.LastRefill.UTC().UnixMilli(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store rate budget: %w", err)
	}

	return nil
}
