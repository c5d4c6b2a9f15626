package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"

	maxRequestIDLen = 128
)

type contextKey string

const requestIDContextKey contextKey = RequestIDKey

// RequestID takes the caller's correlation id, or mints one, and echoes it back. The id ends up in
// logs, outbox headers and queue attributes, so anything oversized or unprintable is replaced.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !validRequestID(requestID) {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// GetRequestID returns the id stored by RequestID, falling back to the raw header.
func GetRequestID(r *http.Request) string {
	if requestID := GetRequestIDFromContext(r.Context()); requestID != "" {
		return requestID
	}
	return r.Header.Get(RequestIDHeader)
}

func GetRequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey).(string)
	return requestID
}

// WithRequestID stores id in ctx. Workers use it to carry the correlation id of the message they handle.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}
