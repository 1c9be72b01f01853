package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stdlens/stdlens/internal/core"
)

// Memory is an in-process cache with optional least-recently-used eviction.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List
	items      map[string]*list.Element
	clock      func() time.Time
}

// NewMemory creates a memory cache. maxEntries <= 0 disables eviction.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for expiry checks.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	if clock != nil {
		m.mu.Lock()
		m.clock = clock
		m.mu.Unlock()
	}
	return m
}

// Lookup returns a copy of a fresh entry, evicting it when expired.
func (m *Memory) Lookup(ctx context.Context, key string) (*core.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*core.CacheEntry)
	if !entry.FreshAt(m.clock()) {
		m.removeLocked(elem)
		return nil, nil
	}

	m.order.MoveToFront(elem)
	return entry.Clone(), nil
}

// Store overwrites any entry for the same key.
func (m *Memory) Store(ctx context.Context, entry *core.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return errors.New("cache entry key is required")
	}
	stored := entry.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[stored.Key]; ok {
		elem.Value = stored
		m.order.MoveToFront(elem)
	} else {
		m.items[stored.Key] = m.order.PushFront(stored)
	}

	for m.maxEntries > 0 && m.order.Len() > m.maxEntries {
		m.removeLocked(m.order.Back())
	}
	return nil
}

// Delete drops key if present.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.removeLocked(elem)
	}
	return nil
}

// Purge evicts every expired entry and returns how many were removed.
func (m *Memory) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	removed := 0
	for elem := m.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !elem.Value.(*core.CacheEntry).FreshAt(now) {
			m.removeLocked(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Len reports the number of stored entries, including expired ones not yet evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Close releases nothing; it exists to satisfy Cache.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := m.order.Remove(elem).(*core.CacheEntry)
	delete(m.items, entry.Key)
}
