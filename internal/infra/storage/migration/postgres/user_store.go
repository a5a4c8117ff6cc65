package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/internal/infra/storage"
)

var _ domain.UserStore = (*userStore)(nil)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// userStore provides a PostgreSQL implementation of the migration UserStore.
// Pages are ordered by primary key ascending so offset paging is stable
// within one migration.
type userStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewUserStore creates a PostgreSQL-backed user store using the provided
// connection pool.
func NewUserStore(pool *pgxpool.Pool, tracer trace.Tracer) *userStore {
	return &userStore{pool: pool, tracer: tracer}
}

// Count returns the total number of user rows.
func (s *userStore) Count(ctx context.Context) (int, error) {
	var count int
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.users.count", defaultDBAttributes, func(ctx context.Context) error {
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
			return fmt.Errorf("failed to count users: %w", err)
		}
		return nil
	})
	return count, err
}

// FetchPage returns up to limit rows starting at offset, ordered by id.
func (s *userStore) FetchPage(ctx context.Context, limit, offset int) ([]domain.UserRow, error) {
	var rows []domain.UserRow
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.users.fetch_page", dbAttrs, func(ctx context.Context) error {
		pgRows, err := s.pool.Query(ctx,
			`SELECT id, email, phone FROM users ORDER BY id ASC LIMIT $1 OFFSET $2`,
			limit, offset,
		)
		if err != nil {
			return fmt.Errorf("failed to fetch user page: %w", err)
		}
		defer pgRows.Close()

		for pgRows.Next() {
			var (
				id           uuid.UUID
				email, phone string
			)
			if err := pgRows.Scan(&id, &email, &phone); err != nil {
				return fmt.Errorf("failed to scan user row: %w", err)
			}
			rows = append(rows, domain.NewUserRow(id, email, phone))
		}
		return pgRows.Err()
	})
	return rows, err
}

// ApplyFieldChanges writes the changed field values for one row. Empty
// changes are a no-op and report no write. The update is idempotent: a
// second application of the same changes finds the stored values already
// equal to the targets.
func (s *userStore) ApplyFieldChanges(ctx context.Context, id uuid.UUID, changes domain.FieldChanges) (bool, error) {
	if changes.Empty() {
		return false, nil
	}

	var didWrite bool
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("user_id", id.String()),
		attribute.Bool("email_changed", changes.Email != nil),
		attribute.Bool("phone_changed", changes.Phone != nil),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.users.apply_field_changes", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE users
			 SET email = COALESCE($2, email),
			     phone = COALESCE($3, phone)
			 WHERE id = $1`,
			id, changes.Email, changes.Phone,
		)
		if err != nil {
			return fmt.Errorf("failed to update user %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("user %s not found: %w", id, pgx.ErrNoRows)
		}
		didWrite = true
		return nil
	})
	return didWrite, err
}

// WidenIdentityColumns raises the storage capacity of both identity
// columns. Run after a successful uninstall decrypt so the application can
// use the columns without the tighter limits the encrypted era imposed.
func (s *userStore) WidenIdentityColumns(ctx context.Context) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.users.widen_identity_columns", defaultDBAttributes, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx,
			`ALTER TABLE users
			 ALTER COLUMN email TYPE VARCHAR(320),
			 ALTER COLUMN phone TYPE VARCHAR(128)`,
		); err != nil {
			return fmt.Errorf("failed to widen identity columns: %w", err)
		}
		return nil
	})
}

// EnsureEmailIndex creates the supporting email index if it is missing.
func (s *userStore) EnsureEmailIndex(ctx context.Context) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.users.ensure_email_index", defaultDBAttributes, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx,
			`CREATE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
		); err != nil {
			return fmt.Errorf("failed to ensure email index: %w", err)
		}
		return nil
	})
}
