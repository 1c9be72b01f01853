package cmd

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/config"
	"github.com/stdlens/stdlens/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Throttled, retried and cached client for rate-limited HTTP APIs",
	Long: `stdlens fetches JSON from a rate-limited HTTP API (openFDA by default).

Every request goes through a response cache, a token bucket sized to the
API's per-minute allowance and a bounded exponential-backoff retry loop.
Use the subcommands to fetch, batch, serve a caching proxy or manage the cache.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early so CLI commands never emit metrics to stdout.
	// Server mode initializes proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/stdlens/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	flags.String("base-url", "", "upstream API base url")
	flags.String("api-key", "", "upstream API key (default $STDLENS_API_KEY)")
	flags.Int("rpm", 0, "requests per minute allowed by the upstream API")
	flags.String("cache-driver", "", "response cache backend: memory, libsql or redis")

	// Flags land in a dedicated viper instance and become runtime overrides.
	_ = flagViper.BindPFlag("api.base_url", flags.Lookup("base-url"))
	_ = flagViper.BindPFlag("api.api_key", flags.Lookup("api-key"))
	_ = flagViper.BindPFlag("api.requests_per_minute", flags.Lookup("rpm"))
	_ = flagViper.BindPFlag("cache.driver", flags.Lookup("cache-driver"))
}

// flagViper holds only values bound from command-line flags.
var flagViper = viper.New()

// initConfig initializes the CLI logger before any command runs.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)
}

// loadConfig layers defaults, the config file, environment and explicitly set flags.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.LoadFile(ctx, cfgFile, flagOverrides(rootCmd))
	if err != nil {
		return nil, err
	}
	if verbose {
		observability.CLILogger.Debug("Configuration loaded",
			zap.String("base_url", cfg.API.BaseURL),
			zap.Int("requests_per_minute", cfg.API.RequestsPerMinute),
			zap.String("cache_driver", cfg.Cache.Driver),
			zap.Bool("api_key_set", cfg.API.APIKey != ""))
	}
	return cfg, nil
}

// flagOverrides returns a nested map with the flags the user actually set.
func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	bindings := map[string]string{
		"base-url":     "api.base_url",
		"api-key":      "api.api_key",
		"rpm":          "api.requests_per_minute",
		"cache-driver": "cache.driver",
	}
	for flag, key := range bindings {
		f := cmd.PersistentFlags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		setNested(overrides, key, flagViper.Get(key))
	}
	return overrides
}

func setNested(target map[string]any, dotted string, value any) {
	parts := strings.Split(dotted, ".")
	current := target
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
