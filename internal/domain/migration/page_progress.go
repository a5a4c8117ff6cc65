package migration

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PageStatus represents the outcome of processing a single page of rows.
// It enables page-level outcome tracking to support partial failure
// handling and resumable processing.
type PageStatus string

const (
	// PageStatusSucceeded indicates every row in the page was handled.
	PageStatusSucceeded PageStatus = "SUCCEEDED"

	// PageStatusPartial indicates some row updates in the page failed.
	PageStatusPartial PageStatus = "PARTIALLY_COMPLETED"

	// PageStatusFailed indicates the page could not be processed at all.
	PageStatusFailed PageStatus = "FAILED"
)

// PageProgress is a value object that captures the execution details and
// outcome of one page of a migration. It provides granular visibility into
// page-level processing for monitoring and failure analysis.
type PageProgress struct {
	pageID        string
	status        PageStatus
	startedAt     time.Time
	completedAt   time.Time
	rowsProcessed int
	rowsUpdated   int
	rowFailures   int
	errorDetails  string
}

// NewSucceededPageProgress creates a PageProgress record for a fully
// processed page. Pages with row-level update failures are reported as
// partial; the migration still continues.
func NewSucceededPageProgress(rowsProcessed, rowsUpdated, rowFailures int) PageProgress {
	status := PageStatusSucceeded
	if rowFailures > 0 {
		status = PageStatusPartial
	}
	return PageProgress{
		pageID:        uuid.New().String(),
		status:        status,
		startedAt:     time.Now(),
		completedAt:   time.Now(),
		rowsProcessed: rowsProcessed,
		rowsUpdated:   rowsUpdated,
		rowFailures:   rowFailures,
	}
}

// NewFailedPageProgress creates a PageProgress record for a page that could
// not be processed. The error details are preserved for failure analysis.
func NewFailedPageProgress(err error) PageProgress {
	return PageProgress{
		pageID:       uuid.New().String(),
		status:       PageStatusFailed,
		startedAt:    time.Now(),
		completedAt:  time.Now(),
		errorDetails: err.Error(),
	}
}

// ReconstructPageProgress creates a PageProgress instance from persisted data.
func ReconstructPageProgress(
	pageID string,
	status PageStatus,
	startedAt time.Time,
	completedAt time.Time,
	rowsProcessed int,
	rowsUpdated int,
	rowFailures int,
	errorDetails string,
) PageProgress {
	return PageProgress{
		pageID:        pageID,
		status:        status,
		startedAt:     startedAt,
		completedAt:   completedAt,
		rowsProcessed: rowsProcessed,
		rowsUpdated:   rowsUpdated,
		rowFailures:   rowFailures,
		errorDetails:  errorDetails,
	}
}

// Getters for PageProgress.
func (p PageProgress) PageID() string         { return p.pageID }
func (p PageProgress) Status() PageStatus     { return p.status }
func (p PageProgress) RowsProcessed() int     { return p.rowsProcessed }
func (p PageProgress) RowsUpdated() int       { return p.rowsUpdated }
func (p PageProgress) RowFailures() int       { return p.rowFailures }
func (p PageProgress) ErrorDetails() string   { return p.errorDetails }
func (p PageProgress) StartedAt() time.Time   { return p.startedAt }
func (p PageProgress) CompletedAt() time.Time { return p.completedAt }

// MarshalJSON serializes the PageProgress object into a JSON byte array.
func (p *PageProgress) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		PageID        string     `json:"page_id"`
		Status        PageStatus `json:"status"`
		StartedAt     time.Time  `json:"started_at"`
		CompletedAt   time.Time  `json:"completed_at"`
		RowsProcessed int        `json:"rows_processed"`
		RowsUpdated   int        `json:"rows_updated"`
		RowFailures   int        `json:"row_failures,omitempty"`
		ErrorDetails  string     `json:"error_details,omitempty"`
	}{
		PageID:        p.pageID,
		Status:        p.status,
		StartedAt:     p.startedAt,
		CompletedAt:   p.completedAt,
		RowsProcessed: p.rowsProcessed,
		RowsUpdated:   p.rowsUpdated,
		RowFailures:   p.rowFailures,
		ErrorDetails:  p.errorDetails,
	})
}

// UnmarshalJSON deserializes JSON data into a PageProgress object.
func (p *PageProgress) UnmarshalJSON(data []byte) error {
	aux := &struct {
		PageID        string     `json:"page_id"`
		Status        PageStatus `json:"status"`
		StartedAt     time.Time  `json:"started_at"`
		CompletedAt   time.Time  `json:"completed_at"`
		RowsProcessed int        `json:"rows_processed"`
		RowsUpdated   int        `json:"rows_updated"`
		RowFailures   int        `json:"row_failures,omitempty"`
		ErrorDetails  string     `json:"error_details,omitempty"`
	}{}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	p.pageID = aux.PageID
	p.status = aux.Status
	p.startedAt = aux.StartedAt
	p.completedAt = aux.CompletedAt
	p.rowsProcessed = aux.RowsProcessed
	p.rowsUpdated = aux.RowsUpdated
	p.rowFailures = aux.RowFailures
	p.errorDetails = aux.ErrorDetails

	return nil
}
