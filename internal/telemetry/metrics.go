package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope for pipeline telemetry.
const ScopeName = "specd.pipeline"

// Metrics bundles the pipeline instruments. All methods are safe on a
// nil receiver so call sites never need to guard.
type Metrics struct {
	attempts      metric.Int64Counter
	phaseDuration metric.Float64Histogram
	tokensUsed    metric.Int64Counter
	waitSeconds   metric.Float64Counter
	specs         metric.Int64Counter
}

// NewMetrics registers the pipeline instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	attempts, err := meter.Int64Counter("pipeline.attempts",
		metric.WithDescription("Phase attempts by phase and result"))
	if err != nil {
		return nil, err
	}
	phaseDuration, err := meter.Float64Histogram("pipeline.phase.duration",
		metric.WithDescription("Wall-clock seconds per phase attempt"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	tokensUsed, err := meter.Int64Counter("pipeline.tokens.used",
		metric.WithDescription("Tokens reported by the agent per phase"))
	if err != nil {
		return nil, err
	}
	waitSeconds, err := meter.Float64Counter("pipeline.wait.seconds",
		metric.WithDescription("Seconds slept between attempts by reason"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	specs, err := meter.Int64Counter("pipeline.specs",
		metric.WithDescription("Spec outcomes per batch run"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		attempts:      attempts,
		phaseDuration: phaseDuration,
		tokensUsed:    tokensUsed,
		waitSeconds:   waitSeconds,
		specs:         specs,
	}, nil
}

// RecordAttempt counts one phase attempt and its duration.
func (m *Metrics) RecordAttempt(ctx context.Context, phase, result string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("result", result),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.phaseDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordTokens counts tokens the agent reported for a phase.
func (m *Metrics) RecordTokens(ctx context.Context, phase string, tokens int64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.tokensUsed.Add(ctx, tokens, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordWait counts sleep time between attempts. reason is "backoff"
// or "rate_limit".
func (m *Metrics) RecordWait(ctx context.Context, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.waitSeconds.Add(ctx, seconds, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSpec counts one spec outcome.
func (m *Metrics) RecordSpec(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.specs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
