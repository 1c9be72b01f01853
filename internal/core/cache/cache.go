// Package cache stores upstream responses keyed by normalized request identity.
package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/stdlens/stdlens/internal/core"
)

// ErrCorrupt marks a stored entry that can no longer be decoded.
// Callers treat it as a miss; the entry is replaced by the next successful fetch.
var ErrCorrupt = errors.New("cache entry corrupt")

// Cache is implemented by every response cache backend.
//
// Lookup returns (nil, nil) when the key is absent or expired.
type Cache interface {
	Lookup(ctx context.Context, key string) (*core.CacheEntry, error)
	Store(ctx context.Context, entry *core.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key derives the cache identity of a request: method, normalized path and the query
// parameters sorted by name. Parameters named in exclude (the API key) never reach the key.
func Key(method, path string, params url.Values, exclude ...string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	path = core.NormalizePath(path)

	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		if _, ok := skip[name]; ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var query strings.Builder
	for _, name := range names {
		escaped := url.QueryEscape(name)
		for _, value := range params[name] {
			if query.Len() > 0 {
				query.WriteByte('&')
			}
			query.WriteString(escaped)
			query.WriteByte('=')
			query.WriteString(url.QueryEscape(value))
		}
	}

	if query.Len() == 0 {
		return method + " " + path
	}
	return method + " " + path + "?" + query.String()
}
