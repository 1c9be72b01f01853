package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stdlens/stdlens/internal/core"
	"github.com/stdlens/stdlens/internal/core/engine"
)

func TestGetResultsAndJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/drug/label.json":
			_, _ = w.Write([]byte(`{"meta":{"results":{"total":2}},"results":[{"id":"a"},{"id":"b"}]}`))
		case "/empty.json":
			_, _ = w.Write([]byte(`{"meta":{}}`))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	ctx := context.Background()

	results, err := c.GetResults(ctx, "/drug/label.json", url.Values{"limit": {"2"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.JSONEq(t, `{"id":"a"}`, string(results[0]))

	empty, err := c.GetResults(ctx, "/empty.json", nil)
	require.NoError(t, err)
	require.Empty(t, empty)

	doc, err := c.GetJSON(ctx, "/drug/label.json", url.Values{"limit": {"2"}})
	require.NoError(t, err)
	require.Contains(t, doc, "meta")

	_, err = c.GetJSON(ctx, "/broken.json", nil)
	require.Error(t, err)
}

func TestGetManyPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	reqs := []core.RequestDescriptor{
		core.NewRequest("/a.json", nil),
		core.NewRequest("/missing.json", nil),
		core.NewRequest("/c.json", nil),
	}

	results := c.GetMany(context.Background(), reqs, 2)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.JSONEq(t, `{"path":"/a.json"}`, string(results[0].Response.Body))

	var statusErr *engine.StatusError
	require.ErrorAs(t, results[1].Err, &statusErr)
	require.Nil(t, results[1].Response)

	require.NoError(t, results[2].Err)
	require.Equal(t, "/c.json", results[2].Request.Path)
}
