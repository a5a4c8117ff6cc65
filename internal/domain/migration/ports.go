package migration

import (
	"context"

	"github.com/google/uuid"
)

// UserStore provides paginated access to user identity rows and keyed field
// updates. Implementations must order pages deterministically (primary key
// ascending) so offset paging never re-visits or skips a row within one
// migration. The design assumes no concurrent writer mutates the identity
// fields during a migration; that is not enforced with locking.
type UserStore interface {
	// Count returns the total number of user rows.
	Count(ctx context.Context) (int, error)

	// FetchPage returns up to limit rows starting at offset, ordered by
	// primary key ascending.
	FetchPage(ctx context.Context, limit, offset int) ([]UserRow, error)

	// ApplyFieldChanges writes the changed field values for one row. It
	// reports whether a write happened; empty changes are a no-op. Applying
	// the same changes twice leaves the row in the same state.
	ApplyFieldChanges(ctx context.Context, id uuid.UUID, changes FieldChanges) (bool, error)

	// WidenIdentityColumns raises the storage capacity of both identity
	// columns so either plaintext or ciphertext fits. Administrative
	// operation, outside the normal request path.
	WidenIdentityColumns(ctx context.Context) error

	// EnsureEmailIndex creates the supporting index on the email column if
	// it does not already exist.
	EnsureEmailIndex(ctx context.Context) error
}

// CryptoService is the opaque encryption collaborator. Implementations
// address keys by reference and never see key material at this boundary.
type CryptoService interface {
	// Encrypt produces ciphertext for a plaintext value under the named key.
	Encrypt(ctx context.Context, plaintext string, ref KeyRef) (string, error)

	// Decrypt recovers plaintext from a ciphertext value under the named key.
	Decrypt(ctx context.Context, ciphertext string, ref KeyRef) (string, error)
}

// KeyRepository manages the encryption profiles backing the key references.
type KeyRepository interface {
	// DeletePreviousProfile retires the previous encryption profile.
	// Deleting the profile's key removes the profile with it.
	DeletePreviousProfile(ctx context.Context) error

	// CurrentKeyLocation returns an operator-facing locator for the current
	// key, used in retirement suggestions after a successful uninstall.
	CurrentKeyLocation() string
}

// JobRepository persists job state between scheduler invocations so a batch
// migration survives process restarts.
type JobRepository interface {
	// Save upserts the serialized job state.
	Save(ctx context.Context, job *Job) error

	// Load retrieves a job by id. Returns nil if no job exists.
	Load(ctx context.Context, id uuid.UUID) (*Job, error)

	// LoadActive returns all jobs that have not reached a terminal status.
	LoadActive(ctx context.Context) ([]*Job, error)
}

// Scheduler accepts a job for resumable paged execution. The scheduler
// invokes the batch runner repeatedly until the job's completion fraction
// reaches 1, persisting job state between invocations, then finalizes it.
// At most one invocation of a given job is active at a time.
type Scheduler interface {
	Schedule(ctx context.Context, job *Job) error
}

// Severity classifies operator-facing status messages.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityCritical Severity = "critical"
)

// StatusMessage is an operator-facing report of a migration outcome. The
// suggestion, when present, is an actionable follow-up such as a key
// retirement location.
type StatusMessage struct {
	Severity   Severity
	Text       string
	Suggestion string
}

// Notifier surfaces status messages to the invoking operator.
type Notifier interface {
	Notify(ctx context.Context, msg StatusMessage)
}
