package monitoring

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"rh-orchestrator/core/models"
)

// MetricsExporter records job lifecycle and remote call metrics through the
// global OpenTelemetry meter provider.
type MetricsExporter struct {
	submitted metric.Int64Counter
	finished  metric.Int64Counter
	active    metric.Int64UpDownCounter
	remote    metric.Int64Counter
}

// NewMetricsExporter creates the job instruments. Instruments that fail to
// register fall back to no-ops so callers never need nil checks.
func NewMetricsExporter() *MetricsExporter {
	meter := otel.Meter(instrumentationName)
	me := &MetricsExporter{}

	var err error
	if me.submitted, err = meter.Int64Counter("jobs_submitted_total",
		metric.WithDescription("Jobs accepted by the scheduler"),
		metric.WithUnit("{job}")); err != nil {
		logger.Error("failed to create metric", "metric", "jobs_submitted_total", "error", err)
		me.submitted = noop.Int64Counter{}
	}
	if me.finished, err = meter.Int64Counter("jobs_finished_total",
		metric.WithDescription("Jobs that reached a terminal status"),
		metric.WithUnit("{job}")); err != nil {
		logger.Error("failed to create metric", "metric", "jobs_finished_total", "error", err)
		me.finished = noop.Int64Counter{}
	}
	if me.active, err = meter.Int64UpDownCounter("jobs_active",
		metric.WithDescription("Jobs currently holding an admission slot"),
		metric.WithUnit("{job}")); err != nil {
		logger.Error("failed to create metric", "metric", "jobs_active", "error", err)
		me.active = noop.Int64UpDownCounter{}
	}
	if me.remote, err = meter.Int64Counter("remote_requests_total",
		metric.WithDescription("Requests sent to the remote platform"),
		metric.WithUnit("{request}")); err != nil {
		logger.Error("failed to create metric", "metric", "remote_requests_total", "error", err)
		me.remote = noop.Int64Counter{}
	}
	return me
}

func (me *MetricsExporter) JobSubmitted(ctx context.Context) {
	me.submitted.Add(ctx, 1)
}

func (me *MetricsExporter) JobStarted(ctx context.Context) {
	me.active.Add(ctx, 1)
}

// JobFinished records the terminal status. Jobs cancelled while still queued
// never held a slot, so wasActive tells whether to release the gauge.
func (me *MetricsExporter) JobFinished(ctx context.Context, status models.JobStatus, wasActive bool) {
	if wasActive {
		me.active.Add(ctx, -1)
	}
	me.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (me *MetricsExporter) RemoteRequest(ctx context.Context, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	me.remote.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
