package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/config"
	"github.com/stdlens/stdlens/internal/core/engine"
	apperrors "github.com/stdlens/stdlens/internal/errors"
	"github.com/stdlens/stdlens/internal/observability"
)

// ExitCodeFor maps a command error onto a semantic foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	var status *engine.StatusError
	switch {
	case err == nil:
		return foundry.ExitCode(0)
	case stderrors.Is(err, os.ErrNotExist):
		return foundry.ExitFileNotFound
	case stderrors.Is(err, engine.ErrInvalidArgument), isConfigError(err):
		return foundry.ExitConfigInvalid
	case stderrors.Is(err, engine.ErrTimeout), stderrors.Is(err, context.DeadlineExceeded), stderrors.As(err, &status):
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}

func isConfigError(err error) bool {
	var cfgErr *configError
	return stderrors.As(err, &cfgErr)
}

// configError marks failures to load or validate configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return "configuration: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// mustConfig loads configuration, marking failures so they exit as config errors.
func mustConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, &configError{err: err}
	}
	return cfg, nil
}

// ExitWithCode exits the program with a semantic foundry exit code and logs the error.
// A nil logger falls back to stderr.
func ExitWithCode(logger observability.FieldLogger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
	}

	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)
	os.Exit(info.Code)
}

// ExitWithCodeStderr is a variant that writes to stderr without a logger.
// Use this for early failures before logger initialization.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
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

// describeError renders client failures with their classified code for CLI output.
func describeError(ctx context.Context, err error) error {
	envelope := apperrors.FromClientError(ctx, err)
	if envelope == nil {
		return err
	}
	return fmt.Errorf("%s: %w", envelope.Code, err)
}
