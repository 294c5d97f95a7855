// Package observability assembles the telemetry provider from the zap,
// Prometheus and OpenTelemetry adapters.
package observability

import (
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics metricSet
}

// metricSet resolves instruments by key; missing keys resolve to no-ops so a
// caller never has to nil-check what it was handed.
type metricSet struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (m metricSet) Counter(name observability.MetricKey) observability.Counter {
	if c := m.counters[name]; c != nil {
		return c
	}
	return observability.NopCounter()
}

func (m metricSet) Histogram(name observability.MetricKey) observability.Histogram {
	if h := m.histograms[name]; h != nil {
		return h
	}
	return observability.NopHistogram()
}

// New assembles a provider. Nil tracer or logger fall back to no-ops.
func New(
	tracer observability.Tracer,
	logger observability.Logger,
	counters map[observability.MetricKey]observability.Counter,
	histograms map[observability.MetricKey]observability.Histogram,
) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &provider{
		tracer:  tracer,
		logger:  logger,
		metrics: metricSet{counters: counters, histograms: histograms},
	}
}

func (p *provider) Tracer() observability.Tracer   { return p.tracer }
func (p *provider) Logger() observability.Logger   { return p.logger }
func (p *provider) Metrics() observability.Metrics { return p.metrics }

// Instruments registers every metric the service emits on reg. Label keys
// must match what callers pass.
func Instruments(reg prometrics.Registry) (map[observability.MetricKey]observability.Counter, map[observability.MetricKey]observability.Histogram) {
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: reg.Counter(string(observability.MUsecaseRequests),
			"Total number of use case invocations.", "use_case", "outcome"),
		observability.MHTTPRequests: reg.Counter(string(observability.MHTTPRequests),
			"Total number of HTTP requests.", "method", "route", "status"),
		observability.MExternalRequests: reg.Counter(string(observability.MExternalRequests),
			"Calls to event publishers and brokers.", "peer", "endpoint", "outcome"),
		observability.MPaymentCallbacks: reg.Counter(string(observability.MPaymentCallbacks),
			"Payment callbacks by final outcome.", "outcome"),
		observability.MStockAdjustments: reg.Counter(string(observability.MStockAdjustments),
			"Line item stock adjustments by outcome.", "outcome"),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: reg.Histogram(string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.", latencyBuckets, "use_case"),
		observability.MHTTPRequestDuration: reg.Histogram(string(observability.MHTTPRequestDuration),
			"Duration of HTTP requests in seconds.", latencyBuckets, "method", "route", "status"),
		observability.MExternalRequestDuration: reg.Histogram(string(observability.MExternalRequestDuration),
			"Duration of publisher and broker calls in seconds.", latencyBuckets, "peer", "endpoint"),
	}
	return counters, histograms
}
