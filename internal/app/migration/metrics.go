package migration

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics defines the measurement operations the migration services emit.
type Metrics interface {
	IncRowsProcessed(ctx context.Context, n int)
	IncRowsUpdated(ctx context.Context, n int)
	IncRowFailures(ctx context.Context, n int)
	IncPagesCompleted(ctx context.Context)
	ObservePageDuration(ctx context.Context, d time.Duration)
	IncJobsStarted(ctx context.Context)
	IncJobsCompleted(ctx context.Context)
	IncJobsFailed(ctx context.Context)
}

// migrationMetrics implements Metrics on OpenTelemetry instruments.
type migrationMetrics struct {
	rowsProcessed metric.Int64Counter
	rowsUpdated   metric.Int64Counter
	rowFailures   metric.Int64Counter
	pagesDone     metric.Int64Counter
	pageDuration  metric.Float64Histogram
	jobsStarted   metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
}

// NewMetrics creates the migration instrument set on the given meter provider.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter("fieldsafe.migration")

	m := new(migrationMetrics)
	var err error

	if m.rowsProcessed, err = meter.Int64Counter("migration_rows_processed_total",
		metric.WithDescription("Total user rows processed across all pages")); err != nil {
		return nil, fmt.Errorf("creating rows_processed counter: %w", err)
	}
	if m.rowsUpdated, err = meter.Int64Counter("migration_rows_updated_total",
		metric.WithDescription("Total user rows whose stored fields changed")); err != nil {
		return nil, fmt.Errorf("creating rows_updated counter: %w", err)
	}
	if m.rowFailures, err = meter.Int64Counter("migration_row_failures_total",
		metric.WithDescription("Total row updates that failed and were skipped")); err != nil {
		return nil, fmt.Errorf("creating row_failures counter: %w", err)
	}
	if m.pagesDone, err = meter.Int64Counter("migration_pages_completed_total",
		metric.WithDescription("Total pages processed")); err != nil {
		return nil, fmt.Errorf("creating pages_completed counter: %w", err)
	}
	if m.pageDuration, err = meter.Float64Histogram("migration_page_duration_seconds",
		metric.WithDescription("Time spent processing one page")); err != nil {
		return nil, fmt.Errorf("creating page_duration histogram: %w", err)
	}
	if m.jobsStarted, err = meter.Int64Counter("migration_jobs_started_total",
		metric.WithDescription("Total migration jobs started")); err != nil {
		return nil, fmt.Errorf("creating jobs_started counter: %w", err)
	}
	if m.jobsCompleted, err = meter.Int64Counter("migration_jobs_completed_total",
		metric.WithDescription("Total migration jobs that reached a terminal success state")); err != nil {
		return nil, fmt.Errorf("creating jobs_completed counter: %w", err)
	}
	if m.jobsFailed, err = meter.Int64Counter("migration_jobs_failed_total",
		metric.WithDescription("Total migration jobs that aborted")); err != nil {
		return nil, fmt.Errorf("creating jobs_failed counter: %w", err)
	}

	return m, nil
}

func (m *migrationMetrics) IncRowsProcessed(ctx context.Context, n int) {
	m.rowsProcessed.Add(ctx, int64(n))
}

func (m *migrationMetrics) IncRowsUpdated(ctx context.Context, n int) {
	m.rowsUpdated.Add(ctx, int64(n))
}

func (m *migrationMetrics) IncRowFailures(ctx context.Context, n int) {
	m.rowFailures.Add(ctx, int64(n))
}

func (m *migrationMetrics) IncPagesCompleted(ctx context.Context) { m.pagesDone.Add(ctx, 1) }

func (m *migrationMetrics) ObservePageDuration(ctx context.Context, d time.Duration) {
	m.pageDuration.Record(ctx, d.Seconds())
}

func (m *migrationMetrics) IncJobsStarted(ctx context.Context)   { m.jobsStarted.Add(ctx, 1) }
func (m *migrationMetrics) IncJobsCompleted(ctx context.Context) { m.jobsCompleted.Add(ctx, 1) }
func (m *migrationMetrics) IncJobsFailed(ctx context.Context)    { m.jobsFailed.Add(ctx, 1) }

// NoopMetrics returns a Metrics implementation that discards everything.
// Intended for tests.
func NoopMetrics() Metrics { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) IncRowsProcessed(context.Context, int)             {}
func (noopMetrics) IncRowsUpdated(context.Context, int)               {}
func (noopMetrics) IncRowFailures(context.Context, int)               {}
func (noopMetrics) IncPagesCompleted(context.Context)                 {}
func (noopMetrics) ObservePageDuration(context.Context, time.Duration) {}
func (noopMetrics) IncJobsStarted(context.Context)                    {}
func (noopMetrics) IncJobsCompleted(context.Context)                  {}
func (noopMetrics) IncJobsFailed(context.Context)                     {}
