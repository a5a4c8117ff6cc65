package migration

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/pkg/common/logger"
)

// Planner decides between inline and scheduled batch execution. Small
// tables are migrated synchronously in the calling goroutine; anything
// above the inline threshold (or any run with forceBatch) is handed to the
// scheduler for paged, resumable execution. Both paths converge on the
// finalizer being called exactly once per job.
type Planner struct {
	users           domain.UserStore
	runner          *BatchRunner
	finalizer       *Finalizer
	scheduler       domain.Scheduler
	notifier        domain.Notifier
	inlineThreshold int

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewPlanner creates a Planner. A non-positive inlineThreshold falls back
// to the runner's page size, preserving the historical behavior of one
// constant serving both purposes.
func NewPlanner(
	users domain.UserStore,
	runner *BatchRunner,
	finalizer *Finalizer,
	scheduler domain.Scheduler,
	notifier domain.Notifier,
	inlineThreshold int,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics Metrics,
) *Planner {
	if inlineThreshold <= 0 {
		inlineThreshold = runner.PageSize()
	}
	logger = logger.With("component", "planner")
	return &Planner{
		users:           users,
		runner:          runner,
		finalizer:       finalizer,
		scheduler:       scheduler,
		notifier:        notifier,
		inlineThreshold: inlineThreshold,
		logger:          logger,
		tracer:          tracer,
		metrics:         metrics,
	}
}

// Run validates the request, sizes the table, and executes the migration on
// the appropriate path. An invalid operation or context aborts before any
// side effects. An empty table is a successful no-op and the finalizer is
// never invoked for it.
func (p *Planner) Run(ctx context.Context, op domain.Operation, invCtx domain.InvocationContext, forceBatch bool) error {
	ctx, span := p.tracer.Start(ctx, "planner.run",
		trace.WithAttributes(
			attribute.String("migration_operation", op.String()),
			attribute.String("invocation_context", invCtx.String()),
			attribute.Bool("force_batch", forceBatch),
		),
	)
	defer span.End()

	if err := op.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid operation")
		return err
	}
	if err := invCtx.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid context")
		return err
	}

	total, err := p.users.Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to count user rows")
		return fmt.Errorf("failed to count user rows: %w", err)
	}
	span.SetAttributes(attribute.Int("total_rows", total))

	if total == 0 {
		p.logger.Info(ctx, "No user rows to migrate", "operation", op.String())
		p.notifier.Notify(ctx, domain.StatusMessage{
			Severity: domain.SeverityInfo,
			Text:     fmt.Sprintf("%s migration: nothing to do, user table is empty", op),
		})
		span.SetStatus(codes.Ok, "empty dataset")
		return nil
	}

	job := domain.NewJob(op, invCtx)
	p.metrics.IncJobsStarted(ctx)

	if forceBatch || total > p.inlineThreshold {
		p.logger.Info(ctx, "Scheduling batch migration",
			"job_id", job.JobID(), "total_rows", total, "force_batch", forceBatch)
		if err := p.scheduler.Schedule(ctx, job); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to schedule job")
			return fmt.Errorf("failed to schedule job %s: %w", job.JobID(), err)
		}
		span.AddEvent("job_scheduled")
		span.SetStatus(codes.Ok, "job scheduled")
		return nil
	}

	// Inline path: small table, drive the runner to completion here. With
	// the threshold at its default this is a single page.
	p.logger.Info(ctx, "Running migration inline", "job_id", job.JobID(), "total_rows", total)
	if err := p.runInline(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inline migration failed")
		return err
	}
	span.SetStatus(codes.Ok, "inline migration finished")
	return nil
}

func (p *Planner) runInline(ctx context.Context, job *domain.Job) error {
	for !job.Done() {
		if err := p.runner.ProcessPage(ctx, job); err != nil {
			p.metrics.IncJobsFailed(ctx)
			if markErr := job.MarkFailed(err.Error()); markErr != nil {
				p.logger.Error(ctx, "Failed to mark job failed", "job_id", job.JobID(), "error", markErr)
			}
			if job.Summary() != nil {
				if finErr := p.finalizer.Finish(ctx, false, job.Summary()); finErr != nil {
					p.logger.Error(ctx, "Cleanup failed during finalize", "job_id", job.JobID(), "error", finErr)
				}
			}
			return fmt.Errorf("inline migration failed: %w", err)
		}
	}

	if err := job.MarkCompleted(); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.JobID(), err)
	}
	p.metrics.IncJobsCompleted(ctx)

	if err := p.finalizer.Finish(ctx, job.Status().Succeeded(), job.Summary()); err != nil {
		// Cleanup problems do not undo the migration; surface and move on.
		p.logger.Error(ctx, "Cleanup failed during finalize", "job_id", job.JobID(), "error", err)
	}
	return nil
}
