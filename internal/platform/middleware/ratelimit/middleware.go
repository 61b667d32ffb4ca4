package ratelimit

import (
	"log/slog"
	"net/http"

	"bulwark/internal/platform/middleware/identity"
	"bulwark/internal/platform/middleware/ratelimit/application"
	"bulwark/internal/platform/middleware/ratelimit/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderWindow    = "X-RateLimit-Window"
	HeaderRemaining = "X-RateLimit-Remaining"

	rejectBody = "Too Many Requests"
)

type Options struct {
	Service            application.Service
	TrustXForwardedFor bool
	Meter              metric.Meter
	Logger             *slog.Logger
}

// Middleware counts every request against its route class. Limit headers are
// set on every response; a rejected request gets 429 with a constant body.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter("bulwark/ratelimit")
	}
	rejected, _ := meter.Int64Counter("ratelimit.requests.rejected",
		metric.WithDescription("Requests rejected by the rate limiter"),
		metric.WithUnit("{request}"))
	degraded, _ := meter.Int64Counter("ratelimit.requests.degraded",
		metric.WithDescription("Requests counted by the local fallback"),
		metric.WithUnit("{request}"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := opts.Service.Decide(
				r.Context(),
				r.URL.Path,
				identity.ClientIP(r, opts.TrustXForwardedFor),
				identity.Fingerprint(r),
			)
			writeHeaders(w, decision)

			classAttr := metric.WithAttributes(attribute.String("class", decision.Policy.Class))
			if decision.Degraded && degraded != nil {
				degraded.Add(r.Context(), 1, classAttr)
			}
			if !decision.Allowed {
				if rejected != nil {
					rejected.Add(r.Context(), 1, classAttr)
				}
				logger.Info("request rate limited",
					"event", "ratelimit_rejected",
					"module", "internal/platform/middleware/ratelimit",
					"layer", "platform",
					"class", decision.Policy.Class,
					"path", r.URL.Path,
					"degraded", decision.Degraded,
				)
				w.Header().Set("Retry-After", formatSeconds(decision.RetryAfter))
				http.Error(w, rejectBody, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeHeaders(w http.ResponseWriter, decision domain.Decision) {
	h := w.Header()
	h.Set(HeaderLimit, formatInt(decision.Policy.Limit))
	h.Set(HeaderWindow, formatSeconds(decision.Policy.Window))
	h.Set(HeaderRemaining, formatInt(decision.Remaining))
}
