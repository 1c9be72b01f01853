package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/stdlens/stdlens/internal/core/store"
	"github.com/stdlens/stdlens/internal/output"
)

var (
	cacheListAll     bool
	cacheListExpired bool
	cacheListPrefix  string
	cacheListLimit   int

	cachePurgeAll     bool
	cachePurgeExpired bool
	cachePurgePrefix  string
	cachePurgeYes     bool
	cachePurgeDryRun  bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and purge the persistent response cache",
	Long: `Inspect and purge responses cached in the libsql store.

Memory caches live only inside a running process and Redis entries expire on
their own, so these commands only manage the libsql cache table.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		query := store.CacheQuery{
			All:     cacheListAll,
			Expired: cacheListExpired,
			Prefix:  cacheKeyPrefix(cacheListPrefix),
		}
		if !query.Expired && query.Prefix == "" {
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

		entries, err := db.ListCacheEntries(cmd.Context(), query, cacheListLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 && format == output.FormatTable {
			_, err := fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox("Response Cache\n\n(no cached responses)", 0))
			return err
		}
		return writeView(cmd, "cache.list", format, output.CacheEntriesView(entries))
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the response cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
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

		stats, err := db.CacheStatistics(cmd.Context())
		if err != nil {
			return err
		}
		return writeView(cmd, "cache.stats", format, output.CacheStatsView(stats))
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		query := store.CacheQuery{
			All:     cachePurgeAll,
			Expired: cachePurgeExpired,
			Prefix:  cacheKeyPrefix(cachePurgePrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !cachePurgeYes && !cachePurgeDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
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

		matched, err := db.CountCacheEntries(cmd.Context(), query)
		if err != nil {
			return err
		}

		result := deletionResult{Matched: matched, DryRun: cachePurgeDryRun, noun: "cached response"}
		if !cachePurgeDryRun {
			result.Deleted, err = db.PurgeCacheEntries(cmd.Context(), query)
			if err != nil {
				return err
			}
		}
		return writeView(cmd, "cache.purge", format, result)
	},
}

// cacheKeyPrefix turns a path prefix such as "/drug" into the cache key form "GET /drug".
func cacheKeyPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "GET ") {
		return trimmed
	}
	return "GET /" + strings.TrimLeft(trimmed, "/")
}

func init() {
	cacheListCmd.Flags().BoolVar(&cacheListAll, "all", false, "List every entry (default when no filter is given)")
	cacheListCmd.Flags().BoolVar(&cacheListExpired, "expired", false, "List only expired entries")
	cacheListCmd.Flags().StringVar(&cacheListPrefix, "prefix", "", "List entries whose path starts with prefix")
	cacheListCmd.Flags().IntVar(&cacheListLimit, "limit", 100, "Maximum entries to list (0 for no limit)")
	addOutputFlags(cacheListCmd, output.FormatTable)

	addOutputFlags(cacheStatsCmd, output.FormatTable)

	cachePurgeCmd.Flags().BoolVar(&cachePurgeAll, "all", false, "Delete every entry")
	cachePurgeCmd.Flags().BoolVar(&cachePurgeExpired, "expired", false, "Delete expired entries")
	cachePurgeCmd.Flags().StringVar(&cachePurgePrefix, "prefix", "", "Delete entries whose path starts with prefix")
	cachePurgeCmd.Flags().BoolVar(&cachePurgeYes, "yes", false, "Confirm destructive purge")
	cachePurgeCmd.Flags().BoolVar(&cachePurgeDryRun, "dry-run", false, "Show what would be deleted")
	addOutputFlags(cachePurgeCmd, output.FormatTable)

	cacheCmd.AddCommand(cacheListCmd, cacheStatsCmd, cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
