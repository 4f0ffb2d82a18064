package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for inkwell spans.
var (
	AttrOwnerID  = attribute.Key("inkwell.owner.id")
	AttrTaskID   = attribute.Key("inkwell.task.id")
	AttrTaskType = attribute.Key("inkwell.task.type")
	AttrModel    = attribute.Key("inkwell.llm.model")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (LLM API, Redis).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// Metrics holds the daemon's metric instruments.
type Metrics struct {
	TaskDuration    metric.Float64Histogram
	LLMCallDuration metric.Float64Histogram
	TasksCompleted  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	FastTierMisses  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskDuration, err = meter.Float64Histogram("inkwell.task.duration",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("inkwell.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("inkwell.task.completed",
		metric.WithDescription("Tasks reaching COMPLETED"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("inkwell.task.failed",
		metric.WithDescription("Tasks reaching FAILED"),
	)
	if err != nil {
		return nil, err
	}

	m.FastTierMisses, err = meter.Int64Counter("inkwell.memory.fast_misses",
		metric.WithDescription("History reads served by the durable tier"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
