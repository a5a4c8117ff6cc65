package migration

import "github.com/google/uuid"

// UserRow is a read model of the two sensitive identity fields stored for a
// single user. Rows are only ever mutated through UserStore.ApplyFieldChanges
// and are never deleted by this subsystem.
type UserRow struct {
	id    uuid.UUID
	email string
	phone string
}

// NewUserRow creates a UserRow from stored field values.
func NewUserRow(id uuid.UUID, email, phone string) UserRow {
	return UserRow{id: id, email: email, phone: phone}
}

// Getters for UserRow.
func (r UserRow) ID() uuid.UUID { return r.id }
func (r UserRow) Email() string { return r.email }
func (r UserRow) Phone() string { return r.phone }

// FieldChanges carries the new values for the fields of one row that an
// operation actually changed. A nil field means "leave the stored value
// alone", which is how per-field crypto failures stay fail-open.
type FieldChanges struct {
	Email *string
	Phone *string
}

// Empty reports whether no field changed.
func (fc FieldChanges) Empty() bool { return fc.Email == nil && fc.Phone == nil }
