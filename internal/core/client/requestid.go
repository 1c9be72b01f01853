package client

import "context"

// RequestIDHeader carries a caller-supplied request ID to the upstream API.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// ContextWithRequestID attaches a request ID that Do reuses instead of generating one.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the ID set by ContextWithRequestID, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
