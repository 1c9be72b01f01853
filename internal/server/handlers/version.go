package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
)

// Build metadata injected from main via SetVersionInfo.
var (
	AppName      = "stdlens"
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
)

// reportedModules are the stack modules whose versions the version report lists.
var reportedModules = []string{
	"github.com/redis/go-redis/v9",
	"github.com/tursodatabase/go-libsql",
	"github.com/go-chi/chi/v5",
	"github.com/spf13/cobra",
	"github.com/sourcegraph/conc",
}

func SetVersionInfo(version, commit, buildDate string) {
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

// VersionResponse is served by /version and printed by `stdlens version`.
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// DepInfo reports the gofulmen and Crucible versions plus the linked versions
// of the cache, store and transport modules.
type DepInfo struct {
	Gofulmen string            `json:"gofulmen"`
	Crucible string            `json:"crucible"`
	Modules  map[string]string `json:"modules,omitempty"`
}

type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// CurrentVersion assembles the version report shared by the endpoint and the CLI.
func CurrentVersion() VersionResponse {
	fulmen := crucible.GetVersion()
	return VersionResponse{
		App: AppInfo{
			Name:      AppName,
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Dependencies: DepInfo{
			Gofulmen: fulmen.Gofulmen,
			Crucible: fulmen.Crucible,
			Modules:  linkedModules(),
		},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	}
}

// linkedModules reads reportedModules from the binary's build info, keyed by
// the last path element without a major version suffix.
func linkedModules() map[string]string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	wanted := make(map[string]bool, len(reportedModules))
	for _, path := range reportedModules {
		wanted[path] = true
	}

	modules := make(map[string]string)
	for _, dep := range info.Deps {
		if !wanted[dep.Path] {
			continue
		}
		version := dep.Version
		if dep.Replace != nil {
			version = dep.Replace.Version
		}
		modules[moduleShortName(dep.Path)] = version
	}
	if len(modules) == 0 {
		return nil
	}
	return modules
}

func moduleShortName(path string) string {
	parts := strings.Split(path, "/")
	name := parts[len(parts)-1]
	if len(parts) > 1 && strings.HasPrefix(name, "v") && strings.Trim(name[1:], "0123456789") == "" {
		name = parts[len(parts)-2]
	}
	return name
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(CurrentVersion())
}
