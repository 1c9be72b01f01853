package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/core"
	"github.com/stdlens/stdlens/internal/observability"
	"github.com/stdlens/stdlens/internal/output"
)

var errNoRequests = errors.New("no requests found")

var batchConcurrency int

var batchCmd = &cobra.Command{
	Use:   "batch <file|->",
	Short: "Fetch many API paths concurrently from a file or stdin",
	Long: `Fetch one request per line, sharing a single rate budget and cache.

Each line is a path with an optional query string, for example
  /drug/label.json?search=openfda.brand_name:aspirin&limit=1
Blank lines and lines starting with # are ignored. Use - to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		reqs, err := readRequests(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}

		cfg, err := mustConfig(cmd.Context())
		if err != nil {
			return err
		}
		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Workers
		}

		api, err := buildClient(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer func() { _ = api.Close() }()

		results := api.GetMany(cmd.Context(), reqs, concurrency)
		view := output.NewResultsView(results)

		observability.Current().Debug("Batch finished",
			zap.Int("requests", len(reqs)),
			zap.Int("failed", view.Failed()),
			zap.Int("concurrency", concurrency))

		if err := writeView(cmd, "batch", format, view); err != nil {
			return err
		}
		if failed := view.Failed(); failed > 0 {
			return fmt.Errorf("%d of %d requests failed", failed, len(reqs))
		}
		return nil
	},
}

func readRequests(stdin io.Reader, source string) ([]core.RequestDescriptor, error) {
	reader := stdin
	if strings.TrimSpace(source) != "-" {
		file, err := os.Open(source)
		if err != nil {
			return nil, err
		}
		defer file.Close() // nolint:errcheck // read-only
		reader = file
	}

	var reqs []core.RequestDescriptor
	scanner := bufio.NewScanner(reader)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		req, err := parseRequestLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		reqs = append(reqs, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, errNoRequests
	}
	return reqs, nil
}

// parseRequestLine splits "path?query" into a request descriptor.
func parseRequestLine(line string) (core.RequestDescriptor, error) {
	path, rawQuery, _ := strings.Cut(line, "?")
	if strings.TrimSpace(path) == "" {
		return core.RequestDescriptor{}, fmt.Errorf("missing path in %q", line)
	}
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return core.RequestDescriptor{}, fmt.Errorf("invalid query in %q: %w", line, err)
	}
	return core.NewRequest(path, params), nil
}

func init() {
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", 0, "Requests in flight at once (default: workers setting)")
	addOutputFlags(batchCmd, output.FormatTable)
	rootCmd.AddCommand(batchCmd)
}
