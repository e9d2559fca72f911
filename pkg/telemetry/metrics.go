package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	stepExecutionCounter metric.Int64Counter
	stepFailureCounter   metric.Int64Counter
	stepLatencyHistogram metric.Float64Histogram
)

// StepMetrics captures the fields recorded for one workflow step execution.
type StepMetrics struct {
	WorkflowID string
	RunID      string
	StepNumber int
	Method     string
	Success    bool
	HTTPCode   int
	Duration   time.Duration
}

// RecordStepMetrics emits counters and a latency histogram for a step.
func RecordStepMetrics(ctx context.Context, m StepMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("workflow.id", m.WorkflowID),
		attribute.Int("step.number", m.StepNumber),
		attribute.String("http.method", m.Method),
		attribute.Int("http.status_code", m.HTTPCode),
		attribute.Bool("step.success", m.Success),
	}

	stepExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if !m.Success {
		stepFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.Duration > 0 {
		stepLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("relayforge.workflow")

		stepExecutionCounter, metricsInitErr = meter.Int64Counter(
			"workflow.step.executions_total",
			metric.WithDescription("Workflow step executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepFailureCounter, metricsInitErr = meter.Int64Counter(
			"workflow.step.failures_total",
			metric.WithDescription("Workflow step executions that failed"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"workflow.step.duration_ms",
			metric.WithDescription("Observed step execution latency"),
			metric.WithUnit("ms"),
		)
	})
	return metricsInitErr
}

// RecordSecurityEvent attaches a coarse-grained security event to the
// span without leaking the blocked content itself.
func RecordSecurityEvent(span trace.Span, blocked bool, reason string) {
	if span == nil || !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Bool("security.blocked", blocked),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("security.block_reason", reason))
	}
	span.AddEvent("security.event", trace.WithAttributes(attrs...))
}
