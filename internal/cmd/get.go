package cmd

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stdlens/stdlens/internal/core"
	"github.com/stdlens/stdlens/internal/output"
)

var (
	getParams  []string
	getTTL     time.Duration
	getResults bool
)

var getCmd = &cobra.Command{
	Use:   "get <path> [key=value...]",
	Short: "Fetch one API path through the cache, limiter and retry loop",
	Long: `Fetch a single API path and print the response.

Query parameters can be given as trailing key=value arguments or with --param.
The api key is appended automatically and never appears in cache keys or logs.

Examples:
  stdlens get /drug/label.json search=openfda.brand_name:aspirin limit=1
  stdlens get /drug/event.json --param limit=5 --results --output-format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		params, err := parseParams(append(args[1:], getParams...))
		if err != nil {
			return err
		}

		cfg, err := mustConfig(cmd.Context())
		if err != nil {
			return err
		}
		api, err := buildClient(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer func() { _ = api.Close() }()

		if getResults {
			results, err := api.GetResults(cmd.Context(), args[0], params)
			if err != nil {
				return describeError(cmd.Context(), err)
			}
			if format == output.FormatTable || format == output.FormatMarkdown || format == output.FormatRaw {
				format = output.FormatJSON
			}
			return writeView(cmd, "results", format, results)
		}

		req := core.NewRequest(args[0], params)
		if cmd.Flags().Changed("ttl") {
			req = req.WithTTL(getTTL)
		}
		resp, err := api.Do(cmd.Context(), req)
		if err != nil {
			return describeError(cmd.Context(), err)
		}
		return writeView(cmd, "response", format, output.NewResponseView(resp))
	},
}

// parseParams turns key=value pairs into query values, keeping repeated keys.
func parseParams(pairs []string) (url.Values, error) {
	params := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		params.Add(key, value)
	}
	return params, nil
}

func init() {
	getCmd.Flags().StringArrayVar(&getParams, "param", nil, "Query parameter as key=value (repeatable)")
	getCmd.Flags().DurationVar(&getTTL, "ttl", 0, "Cache lifetime for this response (0 disables storing it)")
	getCmd.Flags().BoolVar(&getResults, "results", false, "Print only the elements of the response's results collection")
	addOutputFlags(getCmd, output.FormatRaw)
	rootCmd.AddCommand(getCmd)
}
