package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/sourcegraph/conc/pool"

	"github.com/stdlens/stdlens/internal/core"
)

// DefaultConcurrency bounds GetMany when the caller passes no limit.
const DefaultConcurrency = 4

// Result pairs a request from GetMany with its outcome.
type Result struct {
	Request  core.RequestDescriptor
	Response *core.Response
	Err      error
}

// GetJSON fetches path and decodes the body as a JSON object.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	resp, err := c.Get(ctx, path, params)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("decode response for %s: %w", resp.Key, err)
	}
	return doc, nil
}

// GetResults fetches path and returns the elements of its "results" collection.
// A body without the field yields an empty collection.
func (c *Client) GetResults(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	resp, err := c.Get(ctx, path, params)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decode results for %s: %w", resp.Key, err)
	}
	if envelope.Results == nil {
		return []json.RawMessage{}, nil
	}
	return envelope.Results, nil
}

// GetMany runs the requests through the client with at most concurrency in flight.
// Results keep the order of reqs; a failed request does not stop the others.
func (c *Client) GetMany(ctx context.Context, reqs []core.RequestDescriptor, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]Result, len(reqs))
	p := pool.New().WithMaxGoroutines(concurrency)
	for i, req := range reqs {
		p.Go(func() {
			resp, err := c.Do(ctx, req)
			results[i] = Result{Request: req, Response: resp, Err: err}
		})
	}
	p.Wait()
	return results
}
