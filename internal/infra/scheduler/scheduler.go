// Package scheduler provides the in-process incremental job scheduler that
// drives batch migrations page by page, persisting job state between
// invocations so an aborted run resumes at its cursor.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	app "github.com/fieldsafe/fieldsafe/internal/app/migration"
	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/pkg/common/logger"
)

var _ domain.Scheduler = (*Scheduler)(nil)

// Scheduler invokes the batch runner repeatedly until a job's completion
// fraction reaches 1, then hands the result summary to the finalizer. Job
// state is persisted after every page; persistence hiccups are retried with
// exponential backoff before the invocation is abandoned.
//
// At most one invocation of a given job is active at a time. That guard is
// process-local: the design assumes a single scheduler process per table.
type Scheduler struct {
	jobs      domain.JobRepository
	runner    *app.BatchRunner
	finalizer *app.Finalizer
	limiter   *rate.Limiter

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics app.Metrics

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// New creates a Scheduler. pagesPerSecond throttles how fast pages are
// processed; zero or negative disables throttling.
func New(
	jobs domain.JobRepository,
	runner *app.BatchRunner,
	finalizer *app.Finalizer,
	pagesPerSecond float64,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics app.Metrics,
) *Scheduler {
	limit := rate.Inf
	if pagesPerSecond > 0 {
		limit = rate.Limit(pagesPerSecond)
	}
	logger = logger.With("component", "scheduler")
	return &Scheduler{
		jobs:      jobs,
		runner:    runner,
		finalizer: finalizer,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
		tracer:    tracer,
		metrics:   metrics,
		active:    make(map[uuid.UUID]struct{}),
	}
}

// Schedule persists the job and drives it to completion. The drive happens
// in the calling goroutine: the caller owns the decision to run it in the
// background.
func (s *Scheduler) Schedule(ctx context.Context, job *domain.Job) error {
	if err := s.claim(job.JobID()); err != nil {
		return err
	}
	defer s.release(job.JobID())

	if err := s.saveWithRetry(ctx, job); err != nil {
		return fmt.Errorf("failed to persist scheduled job %s: %w", job.JobID(), err)
	}

	return s.drive(ctx, job)
}

// Resume picks up every non-terminal job left behind by a previous process
// and drives each to completion in turn.
func (s *Scheduler) Resume(ctx context.Context) error {
	jobs, err := s.jobs.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active jobs: %w", err)
	}

	for _, job := range jobs {
		if err := s.claim(job.JobID()); err != nil {
			continue
		}
		s.logger.Info(ctx, "Resuming job",
			"job_id", job.JobID(),
			"completion_fraction", job.CompletionFraction(),
		)
		err := s.drive(ctx, job)
		s.release(job.JobID())
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) drive(ctx context.Context, job *domain.Job) error {
	logger := s.logger.With("job_id", job.JobID())
	ctx, span := s.tracer.Start(ctx, "scheduler.drive",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("migration_operation", job.Operation().String()),
		),
	)
	defer span.End()

	for !job.Done() {
		if err := s.limiter.Wait(ctx); err != nil {
			// Cancellation just stops the job being invoked again; the
			// persisted cursor makes the partial state resumable.
			span.AddEvent("drive_interrupted")
			logger.Warn(ctx, "Job drive interrupted, state persisted for resume",
				"completion_fraction", job.CompletionFraction(), "error", err)
			return err
		}

		if err := s.runner.ProcessPage(ctx, job); err != nil {
			return s.fail(ctx, job, err)
		}

		if err := s.saveWithRetry(ctx, job); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to persist job state")
			return fmt.Errorf("failed to persist job %s state: %w", job.JobID(), err)
		}

		logger.Debug(ctx, "Page invocation persisted",
			"completion_fraction", job.CompletionFraction())
	}

	if err := job.MarkCompleted(); err != nil {
		return s.fail(ctx, job, err)
	}
	if err := s.saveWithRetry(ctx, job); err != nil {
		return fmt.Errorf("failed to persist completed job %s: %w", job.JobID(), err)
	}
	s.metrics.IncJobsCompleted(ctx)
	span.AddEvent("job_completed")

	// Completion hook: exactly one finalizer call per job.
	if err := s.finalizer.Finish(ctx, job.Status().Succeeded(), job.Summary()); err != nil {
		// Cleanup problems do not undo committed row updates.
		logger.Error(ctx, "Cleanup failed during finalize", "error", err)
	}
	span.SetStatus(codes.Ok, "job finished")
	return nil
}

func (s *Scheduler) fail(ctx context.Context, job *domain.Job, cause error) error {
	s.metrics.IncJobsFailed(ctx)

	if err := job.MarkFailed(cause.Error()); err != nil {
		s.logger.Error(ctx, "Failed to mark job failed", "job_id", job.JobID(), "error", err)
	}
	if err := s.saveWithRetry(ctx, job); err != nil {
		s.logger.Error(ctx, "Failed to persist failed job", "job_id", job.JobID(), "error", err)
	}

	if job.Summary() != nil {
		if err := s.finalizer.Finish(ctx, false, job.Summary()); err != nil {
			s.logger.Error(ctx, "Cleanup failed during finalize", "job_id", job.JobID(), "error", err)
		}
	}
	return fmt.Errorf("job %s failed: %w", job.JobID(), cause)
}

// saveWithRetry persists job state, retrying transient failures with
// exponential backoff. Losing a page's worth of progress is acceptable;
// losing the whole job record is not.
func (s *Scheduler) saveWithRetry(ctx context.Context, job *domain.Job) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		return s.jobs.Save(ctx, job)
	}

	return backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
}

func (s *Scheduler) claim(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; ok {
		return fmt.Errorf("job %s already has an active invocation", id)
	}
	s.active[id] = struct{}{}
	return nil
}

func (s *Scheduler) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}
