// Package observability declares the vendor-neutral telemetry ports the
// application layer depends on. Adapters live under infrastructure/observability.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the three signals handed to every use case.
type Observability interface {
	Tracer() Tracer
	Logger() Logger
	Metrics() Metrics
}

// MetricKey names a registered instrument; see metrics.go.
type MetricKey string

// Metrics resolves instruments by key. Unknown keys yield no-op instruments.
type Metrics interface {
	Counter(name MetricKey) Counter
	Histogram(name MetricKey) Histogram
}

type Tracer interface {
	Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
}

type Counter interface {
	Add(delta float64, labels ...Label)
	Bind(labels ...Label) BoundCounter
}

type BoundCounter interface {
	Add(delta float64)
}

type Histogram interface {
	Observe(value float64, labels ...Label)
	Bind(labels ...Label) BoundHistogram
}

type BoundHistogram interface {
	Observe(value float64)
}

// Label is a metric dimension. Values must come from a small closed set.
type Label struct{ Key, Value string }

func L(k, v string) Label { return Label{Key: k, Value: v} }

// Field is a structured log attribute.
type Field struct {
	Key   string
	Value any
}

func F(k string, v any) Field { return Field{Key: k, Value: v} }

// Err renders err as the conventional "error" field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

type Logger interface {
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}
