package migration

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ResultSummary accumulates the outcome of a migration across all of its
// pages. It is owned exclusively by the running job until it is handed to
// the finalizer, after which it must be treated as immutable.
type ResultSummary struct {
	totalUsers     int
	updatedUserIDs []uuid.UUID
	operation      Operation
	context        InvocationContext
}

// NewResultSummary seeds a summary for a migration over totalUsers rows.
func NewResultSummary(totalUsers int, op Operation, invCtx InvocationContext) *ResultSummary {
	return &ResultSummary{
		totalUsers: totalUsers,
		operation:  op,
		context:    invCtx,
	}
}

// ReconstructResultSummary creates a summary instance from persisted data.
func ReconstructResultSummary(
	totalUsers int,
	updatedUserIDs []uuid.UUID,
	op Operation,
	invCtx InvocationContext,
) *ResultSummary {
	return &ResultSummary{
		totalUsers:     totalUsers,
		updatedUserIDs: updatedUserIDs,
		operation:      op,
		context:        invCtx,
	}
}

// Getters for ResultSummary.
func (s *ResultSummary) TotalUsers() int              { return s.totalUsers }
func (s *ResultSummary) Operation() Operation         { return s.operation }
func (s *ResultSummary) Context() InvocationContext   { return s.context }
func (s *ResultSummary) UpdatedUserIDs() []uuid.UUID  { return s.updatedUserIDs }
func (s *ResultSummary) UpdatedCount() int            { return len(s.updatedUserIDs) }

// recordUpdated appends the id of a row whose stored fields actually
// changed. IDs keep the order rows were processed in.
func (s *ResultSummary) recordUpdated(id uuid.UUID) {
	s.updatedUserIDs = append(s.updatedUserIDs, id)
}

// MarshalJSON serializes the ResultSummary object into a JSON byte array.
func (s *ResultSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		TotalUsers     int               `json:"total_users"`
		UpdatedUserIDs []uuid.UUID       `json:"updated_user_ids,omitempty"`
		Operation      Operation         `json:"operation"`
		Context        InvocationContext `json:"context"`
	}{
		TotalUsers:     s.totalUsers,
		UpdatedUserIDs: s.updatedUserIDs,
		Operation:      s.operation,
		Context:        s.context,
	})
}

// UnmarshalJSON deserializes JSON data into a ResultSummary object.
func (s *ResultSummary) UnmarshalJSON(data []byte) error {
	aux := &struct {
		TotalUsers     int               `json:"total_users"`
		UpdatedUserIDs []uuid.UUID       `json:"updated_user_ids,omitempty"`
		Operation      Operation         `json:"operation"`
		Context        InvocationContext `json:"context"`
	}{}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	s.totalUsers = aux.TotalUsers
	s.updatedUserIDs = aux.UpdatedUserIDs
	s.operation = aux.Operation
	s.context = aux.Context

	return nil
}
