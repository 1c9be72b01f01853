package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stdlens/stdlens/internal/core"
)

// RateBudgetQuery selects stored rate budgets by endpoint.
type RateBudgetQuery struct {
	All      bool
	Endpoint string
	Prefix   string
}

func (q RateBudgetQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Endpoint) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --endpoint, or --prefix")
}

func (q RateBudgetQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if endpoint := strings.TrimSpace(q.Endpoint); endpoint != "" {
		return "WHERE endpoint = ?", []any{endpoint}, nil
	}
	prefix := strings.TrimSpace(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	return "WHERE endpoint LIKE ?", []any{prefix + "%"}, nil
}

// ListRateBudgets returns stored budgets ordered by endpoint.
func (s *Store) ListRateBudgets(ctx context.Context, q RateBudgetQuery) ([]core.RateBudget, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT endpoint, capacity, available, refill_per_second, last_refill
		FROM rate_budgets
		%s
		ORDER BY endpoint
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list rate budgets: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	budgets := []core.RateBudget{}
	for rows.Next() {
		var (
			budget core.RateBudget
			last   int64
		)
		if err := rows.Scan(&budget.Endpoint, &budget.Capacity, &budget.Available, &budget.RefillPerSecond, &last); err != nil {
			return nil, fmt.Errorf("scan rate budgets: %w", err)
		}
		budget.LastRefill = time.UnixMilli(last).UTC()
		budgets = append(budgets, budget)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate budgets: %w", err)
	}

	return budgets, nil
}

// CountRateBudgets counts budgets matching the query.
func (s *Store) CountRateBudgets(ctx context.Context, q RateBudgetQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM rate_budgets
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate budgets: %w", err)
	}
	return count, nil
}

// ResetRateBudgets deletes matching budgets so the next client starts with a full bucket.
func (s *Store) ResetRateBudgets(ctx context.Context, q RateBudgetQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM rate_budgets
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate budgets: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate budgets: %w", err)
	}
	return affected, nil
}
