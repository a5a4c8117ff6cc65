package migration

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/pkg/common/logger"
)

// Finalizer consumes a finished job's result summary, computes the overall
// outcome, reports it to the operator, and performs context-conditioned
// cleanup. Cleanup is best-effort and non-transactional with the migration:
// a cleanup failure is surfaced but never rolls back committed row updates
// and is never retried.
type Finalizer struct {
	users    domain.UserStore
	keys     domain.KeyRepository
	notifier domain.Notifier

	logger *logger.Logger
	tracer trace.Tracer
}

// NewFinalizer creates a Finalizer with the stores it needs for cleanup.
func NewFinalizer(
	users domain.UserStore,
	keys domain.KeyRepository,
	notifier domain.Notifier,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Finalizer {
	logger = logger.With("component", "finalizer")
	return &Finalizer{
		users:    users,
		keys:     keys,
		notifier: notifier,
		logger:   logger,
		tracer:   tracer,
	}
}

// Finish reports the migration outcome and runs cleanup. The outcome is a
// real success only when the run was reported successful AND at least one
// row was actually migrated; an all-no-op run is reported as a failure even
// on a clean exit. The returned error covers cleanup problems only and does
// not imply migration failure.
func (f *Finalizer) Finish(ctx context.Context, success bool, summary *domain.ResultSummary) error {
	updated := summary.UpdatedCount()
	realSuccess := success && updated > 0

	ctx, span := f.tracer.Start(ctx, "finalizer.finish",
		trace.WithAttributes(
			attribute.String("migration_operation", summary.Operation().String()),
			attribute.String("invocation_context", summary.Context().String()),
			attribute.Int("updated_count", updated),
			attribute.Int("total_users", summary.TotalUsers()),
			attribute.Bool("real_success", realSuccess),
		),
	)
	defer span.End()

	severity := domain.SeverityInfo
	if !realSuccess {
		severity = domain.SeverityCritical
	}

	text := fmt.Sprintf("%s migration finished: %d of %d user rows updated",
		summary.Operation(), updated, summary.TotalUsers())
	f.notifier.Notify(ctx, domain.StatusMessage{Severity: severity, Text: text})

	if severity == domain.SeverityCritical {
		f.logger.Error(ctx, "Migration did not succeed", "operation", summary.Operation().String(),
			"updated_count", updated, "total_users", summary.TotalUsers())
	} else {
		f.logger.Info(ctx, "Migration succeeded", "operation", summary.Operation().String(),
			"updated_count", updated, "total_users", summary.TotalUsers())
	}

	if !realSuccess {
		span.SetStatus(codes.Ok, "finalized without cleanup")
		return nil
	}

	if err := f.cleanup(ctx, summary.Context()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cleanup failed")
		f.notifier.Notify(ctx, domain.StatusMessage{
			Severity: domain.SeverityCritical,
			Text:     fmt.Sprintf("post-migration cleanup failed: %v", err),
		})
		return err
	}

	span.SetStatus(codes.Ok, "finalized")
	return nil
}

// cleanup applies the side effects owed to the reason the migration ran.
func (f *Finalizer) cleanup(ctx context.Context, invCtx domain.InvocationContext) error {
	switch invCtx {
	case domain.ContextUninstall:
		var errs []error
		if err := f.users.WidenIdentityColumns(ctx); err != nil {
			errs = append(errs, fmt.Errorf("widening identity columns: %w", err))
		}
		if err := f.users.EnsureEmailIndex(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ensuring email index: %w", err))
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}

		// Key deletion is suggested, never performed here.
		f.notifier.Notify(ctx, domain.StatusMessage{
			Severity:   domain.SeverityInfo,
			Text:       "encryption removed from user identity fields",
			Suggestion: fmt.Sprintf("the encryption key at %s is no longer used and can be retired", f.keys.CurrentKeyLocation()),
		})
		return nil

	case domain.ContextChange:
		if err := f.keys.DeletePreviousProfile(ctx); err != nil {
			return fmt.Errorf("deleting previous encryption profile: %w", err)
		}
		f.logger.Info(ctx, "Previous encryption profile retired")
		return nil

	case domain.ContextNone:
		return nil

	default:
		return fmt.Errorf("%w: %q", domain.ErrInvalidContext, invCtx)
	}
}
