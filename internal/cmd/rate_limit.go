package cmd

import "github.com/spf13/cobra"

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Manage persisted rate budgets",
	Long: `Manage the token bucket snapshots saved when a client closes.

A fresh process restores its endpoint's snapshot, so back-to-back invocations
share one per-minute allowance. Resetting a budget starts the next run full.`,
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
