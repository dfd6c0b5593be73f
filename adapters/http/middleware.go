package http

import (
	"context"
	"net/http"
	"time"

	"github.com/artpar/meterbill/adapters/metrics"
	"github.com/artpar/meterbill/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// NewRequestIDMiddleware tags each request with an ID, reusing the caller's
// X-Request-ID when present. The ID is readable with middleware.GetReqID.
func NewRequestIDMiddleware(ids ports.IDGenerator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = ids.New()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), middleware.RequestIDKey, id)))
		})
	}
}

// quietPaths are probe endpoints left out of request logs and metrics.
type quietPaths map[string]struct{}

func newQuietPaths(paths []string) quietPaths {
	q := quietPaths{"/healthz": {}}
	for _, p := range paths {
		q[p] = struct{}{}
	}
	return q
}

func (q quietPaths) has(r *http.Request) bool {
	_, ok := q[r.URL.Path]
	return ok
}

// observed runs next and hands the wrapped writer and elapsed time to done.
func observed(next http.Handler, w http.ResponseWriter, r *http.Request, done func(middleware.WrapResponseWriter, time.Duration)) {
	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	next.ServeHTTP(ww, r)
	done(ww, time.Since(start))
}

// NewMetricsMiddleware records request counts and latency by route pattern.
// /healthz and the extra quiet paths are not recorded.
func NewMetricsMiddleware(m *metrics.Collector, quiet ...string) func(next http.Handler) http.Handler {
	skip := newQuietPaths(quiet)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip.has(r) {
				next.ServeHTTP(w, r)
				return
			}
			observed(next, w, r, func(ww middleware.WrapResponseWriter, d time.Duration) {
				m.ObserveRequest(r.Method, routePattern(r), ww.Status(), d)
			})
		})
	}
}

// NewLoggingMiddleware writes one log line per request: info for success,
// warn for client errors, error for server errors.
func NewLoggingMiddleware(logger zerolog.Logger, quiet ...string) func(next http.Handler) http.Handler {
	skip := newQuietPaths(quiet)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip.has(r) {
				next.ServeHTTP(w, r)
				return
			}
			observed(next, w, r, func(ww middleware.WrapResponseWriter, d time.Duration) {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				ev := logger.Info()
				switch {
				case status >= http.StatusInternalServerError:
					ev = logger.Error()
				case status >= http.StatusBadRequest:
					ev = logger.Warn()
				}
				ev.Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("route", routePattern(r)).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", d).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("http request")
			})
		})
	}
}

// NewTracingMiddleware starts a server span per request, continuing the
// caller's trace when the request carries one. The span is named after the
// matched route.
func NewTracingMiddleware(tracer trace.Tracer, quiet ...string) func(next http.Handler) http.Handler {
	skip := newQuietPaths(quiet)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip.has(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			r = r.WithContext(ctx)

			observed(next, w, r, func(ww middleware.WrapResponseWriter, _ time.Duration) {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				route := routePattern(r)
				span.SetName(r.Method + " " + route)
				span.SetAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("http.route", route),
					attribute.Int("http.response.status_code", status),
					attribute.String("request_id", middleware.GetReqID(ctx)),
				)
				if status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(status))
				}
			})
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return "unmatched"
	}
	return rctx.RoutePattern()
}
