package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "feedbacksync"

// Metrics holds the sync metric instruments.
type Metrics struct {
	RunsStarted   metric.Int64Counter
	RunsCompleted metric.Int64Counter
	ItemsSynced   metric.Int64Counter
	ItemErrors    metric.Int64Counter
	ItemConflicts metric.Int64Counter
	RunDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("feedbacksync.runs.started",
		metric.WithDescription("Number of sync runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("feedbacksync.runs.completed",
		metric.WithDescription("Number of sync runs that returned a summary"))
	if err != nil {
		return nil, err
	}

	m.ItemsSynced, err = meter.Int64Counter("feedbacksync.items.synced",
		metric.WithDescription("Items synced"))
	if err != nil {
		return nil, err
	}

	m.ItemErrors, err = meter.Int64Counter("feedbacksync.items.errors",
		metric.WithDescription("Item and batch level sync errors"))
	if err != nil {
		return nil, err
	}

	m.ItemConflicts, err = meter.Int64Counter("feedbacksync.items.conflicts",
		metric.WithDescription("Inbound items left in conflict"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("feedbacksync.run.duration_seconds",
		metric.WithDescription("Sync run duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRun records the outcome of one run. m may be nil.
func (m *Metrics) RecordRun(ctx context.Context, providerType string, synced, errs, conflicts int, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("integration.type", providerType))
	m.RunsCompleted.Add(ctx, 1, attrs)
	m.ItemsSynced.Add(ctx, int64(synced), attrs)
	m.ItemErrors.Add(ctx, int64(errs), attrs)
	m.ItemConflicts.Add(ctx, int64(conflicts), attrs)
	m.RunDuration.Record(ctx, seconds, attrs)
}

// RecordStart counts a started run. m may be nil.
func (m *Metrics) RecordStart(ctx context.Context, providerType string) {
	if m == nil {
		return
	}
	m.RunsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("integration.type", providerType)))
}
