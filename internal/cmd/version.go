package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stdlens/stdlens/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build details and the linked Crucible, cache and store module versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		info := handlers.CurrentVersion()

		_, _ = fmt.Fprintf(out, "%s %s\n", info.App.Name, info.App.Version)
		if !extended {
			return nil
		}

		_, _ = fmt.Fprintf(out, "Commit: %s\n", info.App.Commit)
		_, _ = fmt.Fprintf(out, "Built: %s\n", info.App.BuildDate)
		_, _ = fmt.Fprintf(out, "Go: %s\n\n", info.App.GoVersion)

		_, _ = fmt.Fprintf(out, "Gofulmen: %s\n", info.Dependencies.Gofulmen)
		_, _ = fmt.Fprintf(out, "Crucible: %s\n", info.Dependencies.Crucible)

		names := make([]string, 0, len(info.Dependencies.Modules))
		for name := range info.Dependencies.Modules {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(out, "%s: %s\n", name, info.Dependencies.Modules[name])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
