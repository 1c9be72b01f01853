package engine

import (
	"context"
	"sync"
)

// Group coalesces concurrent calls that share a key into one execution.
//
// The shared call runs on a context detached from any single caller: it keeps the
// first caller's values but not its cancellation, and it is cancelled only once
// every caller waiting on it has left. Each caller stops waiting when its own
// context ends. The key is forgotten as soon as the call returns or is abandoned.
type Group struct {
	mu    sync.Mutex
	calls map[string]*flight
}

// Result is what a coalesced call delivers to each waiting caller.
type Result struct {
	Val any
	Err error
	// Shared reports whether the call was joined by more than one caller.
	Shared bool
}

type flight struct {
	chans  []chan Result
	refs   int
	cancel context.CancelFunc
	done   bool
}

// DoChan starts fn for key unless a call for key is already running, in which case
// the caller joins it. The returned channel receives exactly one Result. leave must
// be called once the caller stops waiting; when the last caller leaves a running
// call, the context passed to fn is cancelled.
func (g *Group) DoChan(ctx context.Context, key string, fn func(context.Context) (any, error)) (<-chan Result, func()) {
	ch := make(chan Result, 1)

	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*flight)
	}
	f, ok := g.calls[key]
	if ok {
		f.chans = append(f.chans, ch)
		f.refs++
		g.mu.Unlock()
		return ch, g.leaver(key, f)
	}

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f = &flight{chans: []chan Result{ch}, refs: 1, cancel: cancel}
	g.calls[key] = f
	g.mu.Unlock()

	go g.run(callCtx, key, f, fn)
	return ch, g.leaver(key, f)
}

// Do runs fn once per in-flight key and waits for its result or for ctx to end,
// whichever comes first. A caller whose context ends gets ContextError(ctx, nil).
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (val any, err error, shared bool) {
	ch, leave := g.DoChan(ctx, key, fn)
	defer leave()

	select {
	case res := <-ch:
		return res.Val, res.Err, res.Shared
	case <-ctx.Done():
		// a result that raced the deadline still wins
		select {
		case res := <-ch:
			return res.Val, res.Err, res.Shared
		default:
		}
		return nil, ContextError(ctx, nil), false
	}
}

func (g *Group) run(ctx context.Context, key string, f *flight, fn func(context.Context) (any, error)) {
	val, err := fn(ctx)

	g.mu.Lock()
	g.forget(key, f)
	f.done = true
	res := Result{Val: val, Err: err, Shared: len(f.chans) > 1}
	for _, ch := range f.chans {
		ch <- res
	}
	g.mu.Unlock()

	f.cancel()
}

// forget removes f unless key already belongs to a newer call. g.mu must be held.
func (g *Group) forget(key string, f *flight) {
	if g.calls[key] == f {
		delete(g.calls, key)
	}
}

func (g *Group) leaver(key string, f *flight) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			f.refs--
			abandon := f.refs == 0 && !f.done
			if abandon {
				// later callers start a fresh call instead of joining a cancelled one
				g.forget(key, f)
			}
			g.mu.Unlock()
			if abandon {
				f.cancel()
			}
		})
	}
}
