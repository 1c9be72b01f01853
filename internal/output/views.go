package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/stdlens/stdlens/internal/core"
	"github.com/stdlens/stdlens/internal/core/client"
	"github.com/stdlens/stdlens/internal/core/store"
)

const timeLayout = time.RFC3339

// ResponseView presents one logical request's outcome.
type ResponseView struct {
	Key        string          `json:"key"`
	StatusCode int             `json:"status_code"`
	FromCache  bool            `json:"from_cache"`
	Attempts   int             `json:"attempts"`
	RequestID  string          `json:"request_id,omitempty"`
	FetchedAt  time.Time       `json:"fetched_at"`
	Bytes      int             `json:"bytes"`
	Body       json.RawMessage `json:"body,omitempty"`
	Text       string          `json:"text,omitempty"`

	raw []byte
}

// NewResponseView wraps resp. JSON bodies are embedded as-is; anything else is carried as text.
func NewResponseView(resp *core.Response) *ResponseView {
	if resp == nil {
		return &ResponseView{}
	}
	view := &ResponseView{
		Key:        resp.Key,
		StatusCode: resp.StatusCode,
		FromCache:  resp.FromCache,
		Attempts:   resp.Attempts,
		RequestID:  resp.RequestID,
		FetchedAt:  resp.FetchedAt,
		Bytes:      len(resp.Body),
		raw:        resp.Body,
	}
	if json.Valid(resp.Body) {
		view.Body = json.RawMessage(resp.Body)
	} else if len(resp.Body) > 0 {
		view.Text = string(resp.Body)
	}
	return view
}

func (v *ResponseView) RawBody() []byte { return v.raw }

func (v *ResponseView) TableHeader() table.Row { return table.Row{"Field", "Value"} }

func (v *ResponseView) TableRows() []table.Row {
	return []table.Row{
		{"key", v.Key},
		{"status", v.StatusCode},
		{"source", sourceLabel(v.FromCache)},
		{"attempts", v.Attempts},
		{"request id", v.RequestID},
		{"fetched at", formatTime(v.FetchedAt)},
		{"bytes", v.Bytes},
	}
}

// ResultView is one row of a batch.
type ResultView struct {
	Path       string `json:"path"`
	Query      string `json:"query,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	FromCache  bool   `json:"from_cache"`
	Attempts   int    `json:"attempts"`
	Bytes      int    `json:"bytes"`
	Error      string `json:"error,omitempty"`
}

// ResultsView presents GetMany results in input order.
type ResultsView []ResultView

// NewResultsView converts batch results.
func NewResultsView(results []client.Result) ResultsView {
	out := make(ResultsView, 0, len(results))
	for _, result := range results {
		row := ResultView{
			Path:  result.Request.Path,
			Query: result.Request.Params.Encode(),
		}
		if result.Response != nil {
			row.StatusCode = result.Response.StatusCode
			row.FromCache = result.Response.FromCache
			row.Attempts = result.Response.Attempts
			row.Bytes = len(result.Response.Body)
		}
		if result.Err != nil {
			row.Error = result.Err.Error()
		}
		out = append(out, row)
	}
	return out
}

// Failed counts rows that carry an error.
func (v ResultsView) Failed() int {
	failed := 0
	for _, row := range v {
		if row.Error != "" {
			failed++
		}
	}
	return failed
}

func (v ResultsView) TableHeader() table.Row {
	return table.Row{"#", "Path", "Query", "Status", "Source", "Attempts", "Bytes", "Error"}
}

func (v ResultsView) TableRows() []table.Row {
	rows := make([]table.Row, 0, len(v))
	for i, row := range v {
		status := "-"
		source := "-"
		if row.Error == "" {
			status = fmt.Sprint(row.StatusCode)
			source = sourceLabel(row.FromCache)
		}
		rows = append(rows, table.Row{i + 1, row.Path, row.Query, status, source, row.Attempts, row.Bytes, row.Error})
	}
	return rows
}

func (v ResultsView) TableFooter() table.Row {
	return table.Row{"", "", "", fmt.Sprintf("%d ok", len(v)-v.Failed()), "", "", "", fmt.Sprintf("%d failed", v.Failed())}
}

// CacheEntriesView lists cached responses.
type CacheEntriesView []store.CacheRecord

func (v CacheEntriesView) TableHeader() table.Row {
	return table.Row{"Key", "Status", "Bytes", "Stored", "Expires", "Accessed"}
}

func (v CacheEntriesView) TableRows() []table.Row {
	rows := make([]table.Row, 0, len(v))
	for _, record := range v {
		rows = append(rows, table.Row{
			record.Key,
			record.StatusCode,
			record.Size,
			formatTime(record.StoredAt),
			formatTime(record.ExpiresAt),
			formatTime(record.AccessedAt),
		})
	}
	return rows
}

// CacheStatsView summarizes the response cache.
type CacheStatsView store.CacheStats

func (v CacheStatsView) TableHeader() table.Row { return table.Row{"Entries", "Expired", "Body bytes"} }

func (v CacheStatsView) TableRows() []table.Row {
	return []table.Row{{v.Entries, v.Expired, v.BodyBytes}}
}

// BudgetsView lists persisted rate budgets.
type BudgetsView []core.RateBudget

func (v BudgetsView) TableHeader() table.Row {
	return table.Row{"Endpoint", "Available", "Capacity", "Refill/s", "Last refill"}
}

func (v BudgetsView) TableRows() []table.Row {
	rows := make([]table.Row, 0, len(v))
	for _, budget := range v {
		rows = append(rows, table.Row{
			budget.Endpoint,
			fmt.Sprintf("%.2f", budget.Available),
			fmt.Sprintf("%.0f", budget.Capacity),
			fmt.Sprintf("%.3f", budget.RefillPerSecond),
			formatTime(budget.LastRefill),
		})
	}
	return rows
}

// StatsView presents client counters.
type StatsView client.Stats

func (v StatsView) TableHeader() table.Row {
	return table.Row{"Hits", "Misses", "Attempts", "Retries", "Coalesced", "Failures"}
}

func (v StatsView) TableRows() []table.Row {
	return []table.Row{{v.CacheHits, v.CacheMisses, v.UpstreamAttempts, v.Retries, v.Coalesced, v.Failures}}
}

func sourceLabel(fromCache bool) string {
	if fromCache {
		return "cache"
	}
	return "upstream"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strings.TrimSpace(t.UTC().Format(timeLayout))
}
