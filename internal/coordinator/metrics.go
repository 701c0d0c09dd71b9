package coordinator

import (
	"context"
	"log/slog"

	"jobrunner/internal/job"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	submissions metric.Int64Counter
	finishes    metric.Int64Counter
	violations  metric.Int64Counter
	duration    metric.Float64Histogram
}

func newMetrics(log *slog.Logger) *metrics {
	meter := otel.Meter("jobrunner/coordinator")
	m := &metrics{}

	var err error
	if m.submissions, err = meter.Int64Counter("jobrunner.jobs.submitted",
		metric.WithDescription("Job submissions by outcome")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "jobrunner.jobs.submitted"), slog.Any("error", err))
		m.submissions = noop.Int64Counter{}
	}
	if m.finishes, err = meter.Int64Counter("jobrunner.jobs.finished",
		metric.WithDescription("Jobs that reached a terminal state")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "jobrunner.jobs.finished"), slog.Any("error", err))
		m.finishes = noop.Int64Counter{}
	}
	if m.violations, err = meter.Int64Counter("jobrunner.jobs.invariant_violations",
		metric.WithDescription("Rejected state transitions")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "jobrunner.jobs.invariant_violations"), slog.Any("error", err))
		m.violations = noop.Int64Counter{}
	}
	if m.duration, err = meter.Float64Histogram("jobrunner.job.duration",
		metric.WithDescription("Time from start to the terminal transition"),
		metric.WithUnit("s")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "jobrunner.job.duration"), slog.Any("error", err))
		m.duration = noop.Float64Histogram{}
	}
	return m
}

func (m *metrics) submitted(ctx context.Context, outcome string) {
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) finished(ctx context.Context, j *job.Job) {
	attrs := metric.WithAttributes(
		attribute.String("job.name", j.Name),
		attribute.String("state", string(j.State)),
	)
	m.finishes.Add(ctx, 1, attrs)
	if j.DurationMs != nil {
		m.duration.Record(ctx, float64(*j.DurationMs)/1000, attrs)
	}
}

func (m *metrics) invariantViolated(ctx context.Context) {
	m.violations.Add(ctx, 1)
}
