// Package requestid tags admin requests with an ID and a request-scoped
// logger.
package requestid

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/dysthesis/sift/internal/observability/logging"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"

	// Header carries the request ID in both directions.
	Header = "X-Request-ID"
)

// FromContext returns the request ID, or "" when there is none.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// Middleware reuses an incoming X-Request-ID or generates a UUID, echoes it
// in the response and attaches a logger carrying it to the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		w.Header().Set(Header, id)

		ctx := WithRequestID(r.Context(), id)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(slog.String("request_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
