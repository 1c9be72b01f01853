package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/config"
)

var (
	// CLILogger is used for CLI commands (SIMPLE profile)
	CLILogger *logging.Logger

	// ServerLogger is used for the proxy server (STRUCTURED profile by default)
	ServerLogger *logging.Logger
)

// FieldLogger is the subset of the logger API the api client and server depend on.
type FieldLogger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// InitCLILogger initializes the CLI logger with SIMPLE profile
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}

	if verbose {
		logger.SetLevel(logging.DEBUG)
	}

	CLILogger = logger
}

// InitServerLogger initializes the server logger from the logging config.
// Optional namespace parameter for telemetry integration
func InitServerLogger(serviceName string, cfg config.LoggingConfig, namespace ...string) {
	logger, err := logging.New(serverLoggerConfig(serviceName, cfg, namespace...))
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}

	ServerLogger = logger
}

// Current returns the server logger when one is running, then the CLI logger,
// and a no-op logger before either is initialized.
func Current() FieldLogger {
	if ServerLogger != nil {
		return ServerLogger
	}
	if CLILogger != nil {
		return CLILogger
	}
	return zap.NewNop()
}

func serverLoggerConfig(serviceName string, cfg config.LoggingConfig, namespace ...string) *logging.LoggerConfig {
	staticFields := make(map[string]any)
	if len(namespace) > 0 && namespace[0] != "" {
		staticFields["namespace"] = namespace[0]
	}

	if strings.EqualFold(strings.TrimSpace(cfg.Profile), "SIMPLE") {
		return &logging.LoggerConfig{
			Profile:      logging.ProfileSimple,
			DefaultLevel: parseLogLevel(cfg.Level),
			Service:      serviceName,
			Environment:  "production",
			StaticFields: staticFields,
			Sinks: []logging.SinkConfig{
				{
					Type:   "console",
					Format: "console",
					Console: &logging.ConsoleSinkConfig{
						Stream:   "stderr",
						Colorize: false,
					},
				},
			},
		}
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(cfg.Level),
		Service:      serviceName,
		Environment:  "production",
		StaticFields: staticFields,
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// parseLogLevel converts string log level to logging severity string
func parseLogLevel(levelStr string) string {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// exitWithCodeStderr exits with a semantic exit code, writing to stderr.
// Used only for logger initialization failures, before any logger exists.
func exitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}
	if !ok {
		os.Exit(int(exitCode))
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}
