package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stdlens/stdlens/internal/core/client"
	"github.com/stdlens/stdlens/internal/core/engine"
	"github.com/stdlens/stdlens/internal/core/store"
	"github.com/stdlens/stdlens/internal/output"
)

var (
	rateLimitResetAll      bool
	rateLimitResetCurrent  bool
	rateLimitResetEndpoint string
	rateLimitResetPrefix   string
	rateLimitResetYes      bool
	rateLimitResetDryRun   bool
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored rate budgets",
	Long: `Delete stored token bucket snapshots so the next client starts with a full bucket.

--current targets the endpoint of the configured api.base_url.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := mustConfig(cmd.Context())
		if err != nil {
			return err
		}

		query := store.RateBudgetQuery{
			All:      rateLimitResetAll,
			Endpoint: strings.TrimSpace(rateLimitResetEndpoint),
			Prefix:   strings.TrimSpace(rateLimitResetPrefix),
		}
		if rateLimitResetCurrent {
			if query.Endpoint != "" {
				return fmt.Errorf("%w: --current and --endpoint are mutually exclusive", engine.ErrInvalidArgument)
			}
			if query.Endpoint, err = client.BudgetEndpoint(cfg.API.BaseURL); err != nil {
				return err
			}
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountRateBudgets(cmd.Context(), query)
		if err != nil {
			return err
		}

		result := deletionResult{Matched: matched, DryRun: rateLimitResetDryRun, noun: "rate budget"}
		if !rateLimitResetDryRun {
			if result.Deleted, err = db.ResetRateBudgets(cmd.Context(), query); err != nil {
				return err
			}
		}
		return writeView(cmd, "rate-limit.reset", format, result)
	},
}

func init() {
	flags := rateLimitResetCmd.Flags()
	flags.BoolVar(&rateLimitResetAll, "all", false, "Reset all endpoints")
	flags.BoolVar(&rateLimitResetCurrent, "current", false, "Reset the endpoint of the configured base url")
	flags.StringVar(&rateLimitResetEndpoint, "endpoint", "", "Reset a single endpoint (exact match, e.g. https://api.fda.gov)")
	flags.StringVar(&rateLimitResetPrefix, "prefix", "", "Reset endpoints with matching prefix")
	flags.BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	flags.BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
	addOutputFlags(rateLimitResetCmd, output.FormatTable)
}
