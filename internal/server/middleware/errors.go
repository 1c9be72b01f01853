package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/metrics"
	"github.com/stdlens/stdlens/internal/observability"
)

// ErrorResponse is the JSON body written for every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Recovery turns a handler panic into a 500 envelope. The stack trace goes to
// the server log only; callers see the request ID to quote.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			requestID := GetRequestID(r.Context())
			route := RouteLabel(r)
			metrics.RecordPanic(route)

			if observability.ServerLogger != nil {
				observability.ServerLogger.Error("Recovered handler panic",
					zap.String("endpoint", route),
					zap.String("requestID", requestID),
					zap.Any("panic", recovered),
					zap.ByteString("stack", debug.Stack()))
			}

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", recovered)).
				WithCorrelationID(requestID)
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// writeErrorResponse encodes envelope without going through internal/errors,
// which imports this package.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   envelope.Context,
		RequestID: envelope.CorrelationID,
	}})
}
