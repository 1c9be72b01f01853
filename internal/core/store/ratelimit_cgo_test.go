//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stdlens/stdlens/internal/core"
	"github.com/stretchr/testify/require"
)

func TestRateBudgetRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, clock := openTestStore(t)

	missing, err := st.GetRateBudget(ctx, "https://api.fda.gov")
	require.NoError(t, err)
	require.Nil(t, missing)

	budget := &core.RateBudget{
		Endpoint:        "https://api.fda.gov",
		Capacity:        240,
		Available:       12.5,
		RefillPerSecond: 4,
		LastRefill:      clock.now,
	}
	require.NoError(t, st.SaveRateBudget(ctx, budget))

	got, err := st.GetRateBudget(ctx, "https://api.fda.gov")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 240.0, got.Capacity)
	require.InDelta(t, 12.5, got.Available, 1e-9)
	require.Equal(t, 4.0, got.RefillPerSecond)
	require.True(t, clock.now.Equal(got.LastRefill))

	budget.Available = 100
	budget.LastRefill = clock.now.Add(time.Minute)
	require.NoError(t, st.SaveRateBudget(ctx, budget))

	got, err = st.GetRateBudget(ctx, "https://api.fda.gov")
	require.NoError(t, err)
	require.InDelta(t, 100, got.Available, 1e-9)
}

func TestRateBudgetAdmin(t *testing.T) {
	ctx := context.Background()
	st, clock := openTestStore(t)

	for _, endpoint := range []string{"https://api.fda.gov", "https://api.fda.gov/drug", "https://example.test"} {
		require.NoError(t, st.SaveRateBudget(ctx, &core.RateBudget{
			Endpoint: endpoint, Capacity: 60, Available: 60, RefillPerSecond: 1, LastRefill: clock.now,
		}))
	}

	_, err := st.ListRateBudgets(ctx, RateBudgetQuery{})
	require.Error(t, err)

	all, err := st.ListRateBudgets(ctx, RateBudgetQuery{All: true})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "https://api.fda.gov", all[0].Endpoint)

	count, err := st.CountRateBudgets(ctx, RateBudgetQuery{Prefix: "https://api.fda.gov"})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	removed, err := st.ResetRateBudgets(ctx, RateBudgetQuery{Endpoint: "https://example.test"})
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	count, err = st.CountRateBudgets(ctx, RateBudgetQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
