package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/flowforge/orchestrator"

type (
	// OtelTracer delegates span creation to the global OTEL TracerProvider.
	// Configure the provider (e.g. via goa.design/clue or OTEL_EXPORTER_OTLP_*
	// environment variables) before engine components start emitting spans.
	OtelTracer struct {
		tracer trace.Tracer
	}

	// OtelMetrics delegates counters/timers/gauges to the global OTEL
	// MeterProvider.
	OtelMetrics struct {
		meter    metric.Meter
		counters map[string]metric.Float64Counter
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewOtelTracer constructs a Tracer backed by the global OTEL TracerProvider.
func NewOtelTracer() Tracer {
	return &OtelTracer{tracer: otel.Tracer(instrumentationName)}
}

// NewOtelMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider.
func NewOtelMetrics() Metrics {
	return &OtelMetrics{meter: otel.Meter(instrumentationName), counters: map[string]metric.Float64Counter{}}
}

// Start opens a new span and returns the derived context.
func (t *OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption)             { s.span.End(opts...) }
func (s *otelSpan) AddEvent(name string, attrs ...any)          { s.span.AddEvent(name) }
func (s *otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }
func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }
func (s *otelSpan) SpanContext() trace.SpanContext              { return s.span.SpanContext() }

// IncCounter increments a named counter by value. Tags are recorded as
// best-effort string attributes under the "tag" key; callers that need typed
// attributes should use the OTEL APIs directly.
func (m *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	if len(tags) == 0 {
		c.Add(context.Background(), value)
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(attribute.StringSlice("tag", tags)))
}

// RecordTimer is a no-op: it records and logs nothing. OTEL histograms
// require an instrument registered up front, which callers needing latency
// breakdowns should do via the meter directly. Present so Metrics callers
// have a uniform interface across the noop/otel implementations.
func (m *OtelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {}

// RecordGauge is likewise best-effort; see RecordTimer.
func (m *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {}
