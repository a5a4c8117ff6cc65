package migration

import "encoding/json"

// ProgressCursor is a value object that tracks how far a migration has
// paged through the user table. It is created when the job seeds its total
// row count, advances monotonically as rows are processed, and is discarded
// once the job reaches completion.
//
// Invariant: 0 <= processed <= total. The completion fraction reaches
// exactly 1 only when processed == total.
type ProgressCursor struct {
	processed int
	total     int
}

// NewProgressCursor creates a cursor for a migration over total rows.
func NewProgressCursor(total int) (*ProgressCursor, error) {
	if total < 0 {
		return nil, newInvalidRowCountError()
	}
	return &ProgressCursor{total: total}, nil
}

// ReconstructProgressCursor creates a cursor from persisted data without
// enforcing creation-time invariants. This should only be used by
// repositories when reconstructing from storage.
func ReconstructProgressCursor(processed, total int) *ProgressCursor {
	return &ProgressCursor{processed: processed, total: total}
}

// Getters for ProgressCursor.
func (c *ProgressCursor) Processed() int { return c.processed }
func (c *ProgressCursor) Total() int     { return c.total }

// Advance moves the cursor forward by n processed rows. The cursor never
// moves backwards and never advances past the total.
func (c *ProgressCursor) Advance(n int) error {
	if n < 0 {
		return newInvalidRowCountError()
	}
	c.processed += n
	if c.processed > c.total {
		c.processed = c.total
	}
	return nil
}

// MarkExhausted snaps the cursor to completion. This handles the case where
// the seeded total overcounted the rows actually fetched and an empty page
// comes back before the fraction reaches 1.
func (c *ProgressCursor) MarkExhausted() { c.processed = c.total }

// CompletionFraction returns the fraction of rows processed so far. An
// empty dataset is complete by definition.
func (c *ProgressCursor) CompletionFraction() float64 {
	if c.total == 0 || c.processed >= c.total {
		return 1
	}
	return float64(c.processed) / float64(c.total)
}

// Done reports whether every row has been processed.
func (c *ProgressCursor) Done() bool { return c.CompletionFraction() == 1 }

// MarshalJSON serializes the ProgressCursor object into a JSON byte array.
func (c *ProgressCursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Processed int `json:"processed"`
		Total     int `json:"total"`
	}{
		Processed: c.processed,
		Total:     c.total,
	})
}

// UnmarshalJSON deserializes JSON data into a ProgressCursor object.
func (c *ProgressCursor) UnmarshalJSON(data []byte) error {
	aux := &struct {
		Processed int `json:"processed"`
		Total     int `json:"total"`
	}{}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.processed = aux.Processed
	c.total = aux.Total

	return nil
}
