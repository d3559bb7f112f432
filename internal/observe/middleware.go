package observe

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ReadinessRoute is the mux pattern of the readiness check. Its responses
// drive the readiness transition log in [Middleware].
const ReadinessRoute = "GET /readyz"

// unmatchedRoute labels requests no mux pattern matched.
const unmatchedRoute = "unmatched"

// Readiness as last observed on [ReadinessRoute].
const (
	readinessUnknown int32 = iota
	readinessReady
	readinessNotReady
)

type operatorRecorder struct {
	http.ResponseWriter
	status int
}

func (r *operatorRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the operator listener that serves /metrics,
// /healthz and /readyz next to the pipeline. It must wrap the
// [http.ServeMux] itself: requests are labelled with the mux pattern that
// matched, never the raw path, so stray scanners hitting random URLs add a
// single "unmatched" series instead of one per path.
//
// Scrapes and health checks are logged at debug level. The readiness check is
// watched for transitions: the first 503 after a ready answer (a failed
// engine, an unreadable phrase file, every transcriber breaker open) is
// logged at warn level, and the recovery at info level.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	var readiness atomic.Int32

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := StartSpan(r.Context(), "operator "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method)),
			)
			defer span.End()

			// ServeMux records the matched pattern on the request it is given.
			req := r.WithContext(ctx)
			rec := &operatorRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)

			route := req.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			elapsed := time.Since(start)

			span.SetName("operator " + route)
			span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(rec.status))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("route", route),
					attribute.Int("status", rec.status),
				),
			)

			if route == ReadinessRoute {
				logReadiness(ctx, &readiness, rec.status)
			}

			level := slog.LevelDebug
			if route == unmatchedRoute || rec.status >= http.StatusInternalServerError && route != ReadinessRoute {
				level = slog.LevelWarn
			}
			slog.LogAttrs(ctx, level, "operator request",
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

func logReadiness(ctx context.Context, last *atomic.Int32, status int) {
	now := readinessReady
	if status != http.StatusOK {
		now = readinessNotReady
	}
	prev := last.Swap(now)
	switch {
	case prev == now:
	case now == readinessNotReady:
		Logger(ctx).Warn("pipeline not ready", "status", status)
	case prev == readinessNotReady:
		Logger(ctx).Info("pipeline ready again")
	}
}
