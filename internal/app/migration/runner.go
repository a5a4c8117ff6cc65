package migration

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/pkg/common/logger"
)

// DefaultPageSize bounds the number of rows handled in one invocation. It
// doubles as the default inline-execution threshold; the two knobs are
// configured independently but share this default.
const DefaultPageSize = 15

// BatchRunner is the chunked execution engine. It is stateless: all state
// that must survive between invocations lives on the Job aggregate, which
// the caller (planner or scheduler) persists. Invoking ProcessPage again
// with the same persisted job picks up exactly where the previous
// invocation left off.
type BatchRunner struct {
	users    domain.UserStore
	codec    *RowCodec
	pageSize int

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewBatchRunner creates a BatchRunner that processes pageSize rows per
// invocation. A non-positive pageSize falls back to DefaultPageSize.
func NewBatchRunner(
	users domain.UserStore,
	codec *RowCodec,
	pageSize int,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics Metrics,
) *BatchRunner {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger = logger.With("component", "batch_runner")
	return &BatchRunner{
		users:    users,
		codec:    codec,
		pageSize: pageSize,
		logger:   logger,
		tracer:   tracer,
		metrics:  metrics,
	}
}

// PageSize returns the configured rows-per-invocation bound.
func (r *BatchRunner) PageSize() int { return r.pageSize }

// ProcessPage runs one invocation of the migration: it seeds the job on
// first call, fetches one page of rows at the cursor position, transforms
// and updates each row in order, and advances the cursor one row at a time
// regardless of whether the row changed. Row-level update failures are
// tolerated and aggregated; an error return means the invocation itself
// could not proceed and the caller may retry it with the same job state.
func (r *BatchRunner) ProcessPage(ctx context.Context, job *domain.Job) error {
	logger := r.logger.With("operation", "process_page", "job_id", job.JobID())
	ctx, span := r.tracer.Start(ctx, "batch_runner.process_page",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("migration_operation", job.Operation().String()),
			attribute.Int("page_size", r.pageSize),
		),
	)
	defer span.End()

	start := time.Now()

	if !job.Seeded() {
		total, err := r.users.Count(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to count user rows")
			return fmt.Errorf("failed to count user rows: %w", err)
		}
		if err := job.Seed(total); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to seed job")
			return fmt.Errorf("failed to seed job: %w", err)
		}
		span.AddEvent("job_seeded", trace.WithAttributes(attribute.Int("total_rows", total)))
		logger.Info(ctx, "Job seeded", "total_rows", total)
	}

	offset := job.Cursor().Processed()
	span.SetAttributes(attribute.Int("offset", offset))

	rows, err := r.users.FetchPage(ctx, r.pageSize, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch page")
		return fmt.Errorf("failed to fetch page at offset %d: %w", offset, err)
	}

	// The seeded total overcounted the table; there is nothing left.
	if len(rows) == 0 && !job.Done() {
		if err := job.MarkRowsExhausted(); err != nil {
			return fmt.Errorf("failed to mark rows exhausted: %w", err)
		}
		span.AddEvent("rows_exhausted_early")
		logger.Warn(ctx, "Empty page before completion, treating as terminal", "offset", offset)
		return nil
	}

	var updated, failures int
	for _, row := range rows {
		changes := r.codec.Transform(ctx, row, job.Operation())

		if !changes.Empty() {
			didWrite, err := r.users.ApplyFieldChanges(ctx, row.ID(), changes)
			switch {
			case err != nil:
				// Row-level failures never abort the batch; they only keep
				// the row out of the updated set.
				failures++
				logger.Warn(ctx, "Row update failed, continuing",
					"user_id", row.ID(), "error", err)
			case didWrite:
				if err := job.RecordUpdatedUser(row.ID()); err != nil {
					return fmt.Errorf("failed to record updated user: %w", err)
				}
				updated++
			}
		}

		// The cursor advances for every enumerated row, changed or not.
		if err := job.AdvanceRows(1); err != nil {
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
	}

	if err := job.RecordPageProgress(domain.NewSucceededPageProgress(len(rows), updated, failures)); err != nil {
		return fmt.Errorf("failed to record page progress: %w", err)
	}

	r.metrics.IncRowsProcessed(ctx, len(rows))
	r.metrics.IncRowsUpdated(ctx, updated)
	r.metrics.IncRowFailures(ctx, failures)
	r.metrics.IncPagesCompleted(ctx)
	r.metrics.ObservePageDuration(ctx, time.Since(start))

	span.SetAttributes(
		attribute.Int("rows_processed", len(rows)),
		attribute.Int("rows_updated", updated),
		attribute.Int("row_failures", failures),
		attribute.Float64("completion_fraction", job.CompletionFraction()),
	)
	span.SetStatus(codes.Ok, "page processed")

	logger.Debug(ctx, "Page processed",
		"rows_processed", len(rows),
		"rows_updated", updated,
		"row_failures", failures,
		"completion_fraction", job.CompletionFraction(),
	)

	return nil
}
