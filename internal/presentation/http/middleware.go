package httppresentation

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Chain per route: withTrace, withRequestScope, withAccessLog, then the handler.

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	tracer := otel.Tracer("minishop.http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		ctxWithSpan, span := tracer.Start(parentCtx,
			route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", routeTemplate(route, r)),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

// requestFields names the caller of one request: the X-Request-ID it sent
// (or a fresh one), its tenant if any, and the server span.
func requestFields(r *http.Request) (string, []observability.Field) {
	rid := r.Header.Get(headerRequestID)
	if rid == "" {
		rid = uuid.NewString()
	}
	fields := []observability.Field{observability.F("request_id", rid)}
	if tid := r.Header.Get(headerTenantID); tid != "" {
		fields = append(fields, observability.F("tenant_id", tid))
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	return rid, fields
}

// withRequestScope echoes the request ID and puts a logger carrying the
// request fields into the context. Use cases pick it up through logctx.
func (h *Handler) withRequestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid, fields := requestFields(r)
		w.Header().Set(headerRequestID, rid)
		next.ServeHTTP(w, r.WithContext(logctx.Enrich(r.Context(), h.log, fields...)))
	})
}

// withAccessLog writes one access log line and records the request metrics
// once the handler completes.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		elapsed := time.Since(start)
		route := routeFromContext(r.Context())
		labels := []observability.Label{
			observability.L("method", r.Method),
			observability.L("route", route),
			observability.L("status", strconv.Itoa(lrw.status)),
		}
		h.reqCounter.Add(1, labels...)
		h.durHistogram.Observe(elapsed.Seconds(), labels...)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", route),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", elapsed.Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func routeTemplate(route string, r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	if route == "unknown" {
		return r.URL.Path
	}
	return route
}

type routeKey struct{}

// contextWithRoute stores the stable route template so metric and log labels
// stay low-cardinality.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
