package main

import (
	"github.com/stdlens/stdlens/internal/cmd"
	"github.com/stdlens/stdlens/internal/server/handlers"
)

// Version information set via ldflags during build
// Example: go build -ldflags="-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-10-01"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		// Commands return errors instead of exiting so deferred cleanup (budget save, store close) runs.
		cmd.ExitWithCodeStderr(cmd.ExitCodeFor(err), "Command execution failed", err)
	}
}
