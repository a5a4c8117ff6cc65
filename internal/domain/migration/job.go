package migration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MigrationErrorKind identifies specific types of errors that can occur
// while mutating a migration job. This enables error handling code to make
// decisions based on the type of error.
type MigrationErrorKind int

const (
	// ErrKindInvalidStateTransition indicates an attempt to transition to an invalid state.
	ErrKindInvalidStateTransition MigrationErrorKind = iota

	// ErrKindInvalidRowCount indicates a negative or otherwise invalid row count.
	ErrKindInvalidRowCount

	// ErrKindNotSeeded indicates progress was recorded before the job seeded
	// its total row count.
	ErrKindNotSeeded

	// ErrKindAlreadySeeded indicates a second attempt to seed the job.
	ErrKindAlreadySeeded
)

// MigrationError represents domain-specific errors raised by the job
// aggregate. It provides context about the type of error to enable
// appropriate error handling.
type MigrationError struct {
	msg  string
	kind MigrationErrorKind
}

// Error returns the error message. This implements the error interface.
func (e *MigrationError) Error() string { return e.msg }

// Is enables error matching by comparing error kinds.
func (e *MigrationError) Is(target error) bool {
	t, ok := target.(*MigrationError)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

func newInvalidStateTransitionError(from, to JobStatus) error {
	return &MigrationError{
		msg:  fmt.Sprintf("cannot transition from %s to %s", from, to),
		kind: ErrKindInvalidStateTransition,
	}
}

func newInvalidRowCountError() error {
	return &MigrationError{
		msg:  "invalid row count",
		kind: ErrKindInvalidRowCount,
	}
}

func newNotSeededError() error {
	return &MigrationError{
		msg:  "job has not seeded its total row count",
		kind: ErrKindNotSeeded,
	}
}

func newAlreadySeededError() error {
	return &MigrationError{
		msg:  "job total row count already seeded",
		kind: ErrKindAlreadySeeded,
	}
}

// JobStatus represents the lifecycle states of a migration job. The status
// transitions form a state machine that enforces valid lifecycle
// progression.
type JobStatus string

const (
	// JobStatusPending indicates the job is created but has not processed a page.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusInProgress indicates pages are actively being processed.
	JobStatusInProgress JobStatus = "IN_PROGRESS"

	// JobStatusCompleted indicates every row was processed with no page failures.
	// This is a terminal state.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusPartiallyCompleted indicates the job finished but some rows
	// failed to update. This is a terminal state.
	JobStatusPartiallyCompleted JobStatus = "PARTIALLY_COMPLETED"

	// JobStatusFailed indicates the job aborted before completion.
	// This is a terminal state.
	JobStatusFailed JobStatus = "FAILED"
)

// Succeeded reports whether the status counts as a positive outcome for
// finalization. Partial completion still counts: row-level failures are
// tolerated and only reflected through the updated-row count.
func (s JobStatus) Succeeded() bool {
	return s == JobStatusCompleted || s == JobStatusPartiallyCompleted
}

// validTransitions defines the allowed state transitions for migration jobs.
// Empty slices indicate terminal states with no allowed transitions.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:            {JobStatusInProgress, JobStatusFailed},
	JobStatusInProgress:         {JobStatusCompleted, JobStatusPartiallyCompleted, JobStatusFailed},
	JobStatusCompleted:          {},
	JobStatusPartiallyCompleted: {},
	JobStatusFailed:             {},
}

// Job is the aggregate root for one resumable migration. It owns the
// progress cursor, the result summary, and per-page outcome records, and is
// the unit of state the scheduler persists between invocations. A job
// tolerates being handed back with previously persisted state and picks up
// at its cursor position.
type Job struct {
	// Identity.
	jobID     uuid.UUID
	operation Operation
	context   InvocationContext

	// Current state.
	status        JobStatus
	failureReason string
	startedAt     time.Time
	lastUpdated   time.Time

	// Progress tracking. Nil until the first invocation seeds the total.
	cursor  *ProgressCursor
	summary *ResultSummary

	// Page tracking.
	pages       []PageProgress
	failedPages int
}

// NewJob creates a migration job for the given operation and invocation
// context. The domain owns identity generation to maintain aggregate
// consistency.
func NewJob(op Operation, invCtx InvocationContext) *Job {
	now := time.Now()
	return &Job{
		jobID:       uuid.New(),
		operation:   op,
		context:     invCtx,
		status:      JobStatusPending,
		startedAt:   now,
		lastUpdated: now,
	}
}

// ReconstructJob creates a Job instance from persisted data without
// generating new identities or enforcing creation-time invariants. This
// should only be used by repositories when reconstructing from storage.
func ReconstructJob(
	jobID uuid.UUID,
	op Operation,
	invCtx InvocationContext,
	status JobStatus,
	failureReason string,
	startedAt time.Time,
	lastUpdated time.Time,
	cursor *ProgressCursor,
	summary *ResultSummary,
	pages []PageProgress,
	failedPages int,
) *Job {
	return &Job{
		jobID:         jobID,
		operation:     op,
		context:       invCtx,
		status:        status,
		failureReason: failureReason,
		startedAt:     startedAt,
		lastUpdated:   lastUpdated,
		cursor:        cursor,
		summary:       summary,
		pages:         pages,
		failedPages:   failedPages,
	}
}

// Getters for Job.
func (j *Job) JobID() uuid.UUID            { return j.jobID }
func (j *Job) Operation() Operation        { return j.operation }
func (j *Job) Context() InvocationContext  { return j.context }
func (j *Job) Status() JobStatus           { return j.status }
func (j *Job) FailureReason() string       { return j.failureReason }
func (j *Job) StartedAt() time.Time        { return j.startedAt }
func (j *Job) LastUpdated() time.Time      { return j.lastUpdated }
func (j *Job) Cursor() *ProgressCursor     { return j.cursor }
func (j *Job) Summary() *ResultSummary     { return j.summary }
func (j *Job) Pages() []PageProgress       { return j.pages }
func (j *Job) FailedPages() int            { return j.failedPages }

// Seeded reports whether the first invocation has already recorded the
// total row count.
func (j *Job) Seeded() bool { return j.cursor != nil }

// Seed records the total row count on the first invocation and transitions
// the job into progress. Seeding twice is an error: the total must stay
// fixed so offset paging never re-visits a row.
func (j *Job) Seed(totalRows int) error {
	if j.Seeded() {
		return newAlreadySeededError()
	}

	cursor, err := NewProgressCursor(totalRows)
	if err != nil {
		return err
	}

	if !j.CanTransitionTo(JobStatusInProgress) {
		return newInvalidStateTransitionError(j.status, JobStatusInProgress)
	}

	j.cursor = cursor
	j.summary = NewResultSummary(totalRows, j.operation, j.context)
	j.setStatus(JobStatusInProgress)
	return nil
}

// AdvanceRows moves the progress cursor forward by n processed rows.
func (j *Job) AdvanceRows(n int) error {
	if !j.Seeded() {
		return newNotSeededError()
	}
	if err := j.cursor.Advance(n); err != nil {
		return err
	}
	j.touch()
	return nil
}

// MarkRowsExhausted snaps the cursor to completion when a page comes back
// empty before the fraction reaches 1.
func (j *Job) MarkRowsExhausted() error {
	if !j.Seeded() {
		return newNotSeededError()
	}
	j.cursor.MarkExhausted()
	j.touch()
	return nil
}

// RecordUpdatedUser adds a row id to the summary after its stored fields
// actually changed.
func (j *Job) RecordUpdatedUser(id uuid.UUID) error {
	if !j.Seeded() {
		return newNotSeededError()
	}
	j.summary.recordUpdated(id)
	j.touch()
	return nil
}

// RecordPageProgress appends the outcome of one processed page.
func (j *Job) RecordPageProgress(page PageProgress) error {
	if j.status != JobStatusInProgress {
		return newInvalidStateTransitionError(j.status, JobStatusInProgress)
	}

	j.pages = append(j.pages, page)
	if page.Status() != PageStatusSucceeded {
		j.failedPages++
	}
	j.touch()
	return nil
}

// CompletionFraction returns processed/total, or 0 before seeding.
func (j *Job) CompletionFraction() float64 {
	if !j.Seeded() {
		return 0
	}
	return j.cursor.CompletionFraction()
}

// Done reports whether the cursor has reached completion. Completion
// fraction 1 is the sole terminal signal for the paging loop.
func (j *Job) Done() bool { return j.Seeded() && j.cursor.Done() }

// MarkCompleted transitions the job to its terminal success state:
// COMPLETED when every page succeeded, PARTIALLY_COMPLETED otherwise.
func (j *Job) MarkCompleted() error {
	target := JobStatusCompleted
	if j.failedPages > 0 {
		target = JobStatusPartiallyCompleted
	}

	if !j.CanTransitionTo(target) {
		return newInvalidStateTransitionError(j.status, target)
	}
	j.setStatus(target)
	return nil
}

// MarkFailed transitions the job to the failed state with a reason.
func (j *Job) MarkFailed(reason string) error {
	if !j.CanTransitionTo(JobStatusFailed) {
		return newInvalidStateTransitionError(j.status, JobStatusFailed)
	}
	j.failureReason = reason
	j.setStatus(JobStatusFailed)
	return nil
}

// CanTransitionTo validates if a state transition is allowed.
func (j *Job) CanTransitionTo(target JobStatus) bool {
	allowed, exists := validTransitions[j.status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

func (j *Job) setStatus(status JobStatus) {
	j.status = status
	j.touch()
}

func (j *Job) touch() { j.lastUpdated = time.Now() }

// MarshalJSON serializes the Job object into a JSON byte array.
func (j *Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		JobID         uuid.UUID         `json:"job_id"`
		Operation     Operation         `json:"operation"`
		Context       InvocationContext `json:"context"`
		Status        JobStatus         `json:"status"`
		FailureReason string            `json:"failure_reason,omitempty"`
		StartedAt     time.Time         `json:"started_at"`
		LastUpdated   time.Time         `json:"last_updated"`
		Cursor        *ProgressCursor   `json:"cursor,omitempty"`
		Summary       *ResultSummary    `json:"summary,omitempty"`
		Pages         []PageProgress    `json:"pages,omitempty"`
		FailedPages   int               `json:"failed_pages,omitempty"`
	}{
		JobID:         j.jobID,
		Operation:     j.operation,
		Context:       j.context,
		Status:        j.status,
		FailureReason: j.failureReason,
		StartedAt:     j.startedAt,
		LastUpdated:   j.lastUpdated,
		Cursor:        j.cursor,
		Summary:       j.summary,
		Pages:         j.pages,
		FailedPages:   j.failedPages,
	})
}

// UnmarshalJSON deserializes JSON data into a Job object.
func (j *Job) UnmarshalJSON(data []byte) error {
	aux := &struct {
		JobID         uuid.UUID         `json:"job_id"`
		Operation     Operation         `json:"operation"`
		Context       InvocationContext `json:"context"`
		Status        JobStatus         `json:"status"`
		FailureReason string            `json:"failure_reason,omitempty"`
		StartedAt     time.Time         `json:"started_at"`
		LastUpdated   time.Time         `json:"last_updated"`
		Cursor        *ProgressCursor   `json:"cursor,omitempty"`
		Summary       *ResultSummary    `json:"summary,omitempty"`
		Pages         []PageProgress    `json:"pages,omitempty"`
		FailedPages   int               `json:"failed_pages,omitempty"`
	}{}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	j.jobID = aux.JobID
	j.operation = aux.Operation
	j.context = aux.Context
	j.status = aux.Status
	j.failureReason = aux.FailureReason
	j.startedAt = aux.StartedAt
	j.lastUpdated = aux.LastUpdated
	j.cursor = aux.Cursor
	j.summary = aux.Summary
	j.pages = aux.Pages
	j.failedPages = aux.FailedPages

	return nil
}
