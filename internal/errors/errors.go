// Package errors maps api client failures onto gofulmen error envelopes and
// writes them as JSON responses for the proxy server.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/core/cache"
	"github.com/stdlens/stdlens/internal/core/client"
	"github.com/stdlens/stdlens/internal/core/engine"
	"github.com/stdlens/stdlens/internal/metrics"
	"github.com/stdlens/stdlens/internal/observability"
	"github.com/stdlens/stdlens/internal/server/middleware"
)

// Error codes carried in envelopes.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUpstreamRejected   = "UPSTREAM_REJECTED"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeCacheCorrupt       = "CACHE_CORRUPT"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeInternal           = "INTERNAL_ERROR"
)

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewRateLimitedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeRateLimited, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInternal, message)
}

// Wrap builds an envelope for err carrying the request's correlation ID.
func Wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	return wrapWithContext(ctx, code, err, message, nil)
}

// FromClientError classifies an error returned by the api client.
func FromClientError(ctx context.Context, err error) *errors.ErrorEnvelope {
	if err == nil {
		return nil
	}

	var status *engine.StatusError
	var exhausted *engine.RetryExhaustedError
	extra := make(map[string]interface{})

	code, message := CodeExternalService, "upstream request failed"
	switch {
	case stderrors.Is(err, engine.ErrTimeout), stderrors.Is(err, context.DeadlineExceeded):
		code, message = CodeTimeout, "upstream request deadline exceeded"
	case stderrors.Is(err, context.Canceled):
		code, message = CodeServiceUnavailable, "request canceled"
	case stderrors.Is(err, client.ErrClientClosed):
		code, message = CodeServiceUnavailable, "api client is shutting down"
	case stderrors.Is(err, engine.ErrInvalidArgument):
		code, message = CodeInvalidInput, "invalid request"
	case stderrors.Is(err, cache.ErrCorrupt):
		code, message = CodeCacheCorrupt, "cached response could not be decoded"
	case stderrors.As(err, &status):
		code, message = statusCode(status.StatusCode)
		extra["upstream_status"] = status.StatusCode
		if status.RetryAfter > 0 {
			extra["retry_after_seconds"] = int(status.RetryAfter.Seconds())
		}
	}

	if stderrors.As(err, &exhausted) {
		extra["attempts"] = exhausted.Attempts
	}
	return wrapWithContext(ctx, code, err, message, extra)
}

func statusCode(upstream int) (string, string) {
	switch {
	case upstream == http.StatusNotFound:
		return CodeNotFound, "upstream found no matching records"
	case upstream == http.StatusTooManyRequests:
		return CodeRateLimited, "upstream rate limit exceeded"
	case upstream >= 400 && upstream < 500:
		return CodeUpstreamRejected, "upstream rejected the request"
	default:
		return CodeExternalService, "upstream service error"
	}
}

func wrapWithContext(ctx context.Context, code string, err error, message string, extra map[string]interface{}) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	correlationID := extractCorrelationID(ctx)
	envelope = envelope.WithCorrelationID(correlationID)
	// no tracing yet, so the trace ID mirrors the correlation ID
	envelope = envelope.WithTraceID(correlationID)

	contextData := make(map[string]interface{}, len(extra)+1)
	for key, value := range extra {
		contextData[key] = value
	}
	if err != nil {
		contextData["wrapped_error"] = err.Error()
	}
	if len(contextData) == 0 {
		return envelope
	}
	updated, updateErr := envelope.WithContext(contextData)
	if updateErr != nil {
		return envelope
	}
	return updated
}

// extractCorrelationID gets correlation ID from context, falls back to generating new UUID
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
		if requestID := client.RequestIDFromContext(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env, _ = env.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation ID to the envelope using the context when available.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	if envelope.CorrelationID != "" {
		return envelope
	}

	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}

	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}

	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromEnvelope resolves the HTTP status code corresponding to an error envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeInvalidInput, CodeUpstreamRejected:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ResponseDetails constructs API-safe details map by merging envelope details and context.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil {
		return nil
	}

	details := make(map[string]interface{})
	for key, value := range envelope.Details {
		details[key] = value
	}
	for key, value := range envelope.Context {
		if _, exists := details[key]; !exists {
			details[key] = value
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope finalizes the provided envelope, logging and emitting metrics.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	var ctx context.Context
	if r != nil {
		ctx = r.Context()
	}
	envelope = EnsureCorrelationID(envelope, ctx)
	statusCode := HTTPStatusFromEnvelope(envelope)

	response := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   ResponseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	}

	logHTTPError(envelope, statusCode)
	emitErrorMetrics(r, envelope, statusCode)

	w.Header().Set("Content-Type", "application/json")
	if seconds := retryAfterSeconds(envelope); seconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func retryAfterSeconds(envelope *errors.ErrorEnvelope) int {
	switch v := envelope.Context["retry_after_seconds"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}
	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch {
	case envelope.Severity == errors.SeverityCritical, envelope.Severity == errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case statusCode >= http.StatusInternalServerError, envelope.Severity == errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, statusCode int) {
	if envelope == nil {
		return
	}

	route := ""
	if r != nil {
		route = middleware.RouteLabel(r)
	}
	metrics.RecordErrorResponse(route, envelope.Code, statusCode)
}
