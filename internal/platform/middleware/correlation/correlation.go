// Package correlation carries a per-request correlation id through the
// request context, logs and outgoing responses.
package correlation

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	HeaderName       = "X-Correlation-Id"
	legacyHeaderName = "X-Request-Id"
	maxInboundLength = 128
)

type contextKey struct{}

// Middleware reuses the caller's correlation id when present and generates
// one otherwise. The id is echoed on every response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := inbound(r)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderName, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the correlation id or "" when the context has none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Logger enriches base with the correlation id carried by ctx.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := FromContext(ctx); id != "" {
		return base.With("correlation_id", id)
	}
	return base
}

// Resolver adapts FromContext to consumers that take an interface.
type Resolver struct{}

func (Resolver) CorrelationID(ctx context.Context) string {
	return FromContext(ctx)
}

func inbound(r *http.Request) string {
	for _, header := range []string{HeaderName, legacyHeaderName} {
		value := strings.TrimSpace(r.Header.Get(header))
		if value != "" && len(value) <= maxInboundLength && printable(value) {
			return value
		}
	}
	return ""
}

func printable(value string) bool {
	for _, c := range value {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
