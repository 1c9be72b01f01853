package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/stdlens/stdlens/internal/core/store"
	"github.com/stdlens/stdlens/internal/output"
)

var (
	rateLimitListAll    bool
	rateLimitListPrefix string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate budgets",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		query := store.RateBudgetQuery{
			All:    rateLimitListAll,
			Prefix: strings.TrimSpace(rateLimitListPrefix),
		}
		if !query.All && query.Prefix == "" {
			query.All = true
		}

		cfg, err := mustConfig(cmd.Context())
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		budgets, err := db.ListRateBudgets(cmd.Context(), query)
		if err != nil {
			return err
		}
		if len(budgets) == 0 && format == output.FormatTable {
			_, err := fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox("Rate Budgets\n\n(no stored rate budgets)", 0))
			return err
		}
		return writeView(cmd, "rate-limit.list", format, output.BudgetsView(budgets))
	},
}

func init() {
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "List all endpoints")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List endpoints with matching prefix")
	addOutputFlags(rateLimitListCmd, output.FormatTable)
}
