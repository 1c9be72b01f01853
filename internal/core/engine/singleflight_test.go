package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// waitForRefs blocks until n callers are attached to the in-flight call for key.
func waitForRefs(t *testing.T, g *Group, key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		f, ok := g.calls[key]
		return ok && f.refs == n
	}, time.Second, time.Millisecond)
}

func TestGroupCoalescesConcurrentCalls(t *testing.T) {
	var g Group
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "payload", nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]any, callers)
	errs := make([]error, callers)
	shared := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Go(func() {
			results[i], errs[i], shared[i] = g.Do(context.Background(), "GET /drug/label", fn)
		})
	}

	waitForRefs(t, &g, "GET /drug/label", callers)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "payload", results[i])
		require.True(t, shared[i])
	}
}

func TestGroupSharesErrors(t *testing.T) {
	var g Group
	boom := errors.New("upstream exploded")
	release := make(chan struct{})

	fn := func(context.Context) (any, error) {
		<-release
		return nil, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Go(func() {
			_, errs[i], _ = g.Do(context.Background(), "k", fn)
		})
	}

	waitForRefs(t, &g, "k", len(errs))
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, boom)
	}
}

func TestGroupForgetsCompletedKeys(t *testing.T) {
	var g Group
	boom := errors.New("boom")

	_, err, shared := g.Do(context.Background(), "k", func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.False(t, shared)

	val, err, _ := g.Do(context.Background(), "k", func(context.Context) (any, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, val)
}

func TestGroupWaiterDeadlineDoesNotWaitForCall(t *testing.T) {
	var g Group
	release := make(chan struct{})
	fn := func(context.Context) (any, error) {
		<-release
		return "payload", nil
	}

	ownerDone := make(chan any, 1)
	go func() {
		val, _, _ := g.Do(context.Background(), "k", fn)
		ownerDone <- val
	}()
	waitForRefs(t, &g, "k", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err, _ := g.Do(ctx, "k", fn)
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), time.Second)

	close(release)
	require.Equal(t, "payload", <-ownerDone)
}

func TestGroupOwnerCancellationLeavesWaitersRunning(t *testing.T) {
	var g Group
	release := make(chan struct{})
	var callErr atomic.Value

	fn := func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return "payload", nil
		case <-ctx.Done():
			callErr.Store(ctx.Err())
			return nil, ctx.Err()
		}
	}

	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	ownerErr := make(chan error, 1)
	go func() {
		_, err, _ := g.Do(ownerCtx, "k", fn)
		ownerErr <- err
	}()
	waitForRefs(t, &g, "k", 1)

	waiter := make(chan any, 1)
	go func() {
		val, err, _ := g.Do(context.Background(), "k", fn)
		if err != nil {
			waiter <- err
			return
		}
		waiter <- val
	}()
	waitForRefs(t, &g, "k", 2)

	cancelOwner()
	require.ErrorIs(t, <-ownerErr, context.Canceled)

	close(release)
	require.Equal(t, "payload", <-waiter)
	require.Nil(t, callErr.Load())
}

func TestGroupLastCallerLeavingCancelsCall(t *testing.T) {
	var g Group
	var calls atomic.Int32
	cancelled := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err, _ := g.Do(ctx, "k", func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, ErrTimeout)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("abandoned call was not cancelled")
	}

	val, err, _ := g.Do(context.Background(), "k", func(context.Context) (any, error) {
		calls.Add(1)
		return "fresh", nil
	})
	require.NoError(t, err)
	require.Equal(t, "fresh", val)
	require.Equal(t, int32(2), calls.Load())
}
