package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/internal/infra/storage"
)

var _ domain.JobRepository = (*jobStore)(nil)

// jobStore provides a PostgreSQL implementation of the migration
// JobRepository. The aggregate is serialized to JSONB so the job state can
// evolve without lockstep schema changes; status is mirrored into its own
// column for cheap active-job queries.
type jobStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a PostgreSQL-backed job state store using the
// provided connection pool.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{pool: pool, tracer: tracer}
}

// Save upserts the serialized job state.
func (s *jobStore) Save(ctx context.Context, job *domain.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", job.JobID().String()),
		attribute.String("status", string(job.Status())),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.migration_jobs.save", dbAttrs, func(ctx context.Context) error {
		state, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job state: %w", err)
		}

		if _, err := s.pool.Exec(ctx,
			`INSERT INTO migration_jobs (id, status, state, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (id) DO UPDATE SET
			     status = EXCLUDED.status,
			     state = EXCLUDED.state,
			     updated_at = NOW()`,
			job.JobID(), string(job.Status()), state,
		); err != nil {
			return fmt.Errorf("failed to save job state: %w", err)
		}
		return nil
	})
}

// Load retrieves a job by id. Returns nil if no job exists.
func (s *jobStore) Load(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job *domain.Job
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", id.String()),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.migration_jobs.load", dbAttrs, func(ctx context.Context) error {
		var state []byte
		if err := s.pool.QueryRow(ctx,
			`SELECT state FROM migration_jobs WHERE id = $1`, id,
		).Scan(&state); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to load job state: %w", err)
		}

		job = new(domain.Job)
		if err := json.Unmarshal(state, job); err != nil {
			job = nil
			return fmt.Errorf("failed to unmarshal job state: %w", err)
		}
		return nil
	})
	return job, err
}

// LoadActive returns all jobs that have not reached a terminal status.
func (s *jobStore) LoadActive(ctx context.Context) ([]*domain.Job, error) {
	var jobs []*domain.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.migration_jobs.load_active", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT state FROM migration_jobs
			 WHERE status IN ($1, $2)
			 ORDER BY updated_at ASC`,
			string(domain.JobStatusPending), string(domain.JobStatusInProgress),
		)
		if err != nil {
			return fmt.Errorf("failed to load active jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var state []byte
			if err := rows.Scan(&state); err != nil {
				return fmt.Errorf("failed to scan job state: %w", err)
			}
			job := new(domain.Job)
			if err := json.Unmarshal(state, job); err != nil {
				return fmt.Errorf("failed to unmarshal job state: %w", err)
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	return jobs, err
}
