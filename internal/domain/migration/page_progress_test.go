package migration_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/fieldsafe/internal/domain/migration"
)

func TestNewSucceededPageProgress(t *testing.T) {
	page := migration.NewSucceededPageProgress(15, 12, 0)

	require.NotEmpty(t, page.PageID())
	require.Equal(t, migration.PageStatusSucceeded, page.Status())
	require.Equal(t, 15, page.RowsProcessed())
	require.Equal(t, 12, page.RowsUpdated())
	require.Equal(t, 0, page.RowFailures())
	require.WithinDuration(t, time.Now(), page.StartedAt(), 2*time.Second)
	require.WithinDuration(t, time.Now(), page.CompletedAt(), 2*time.Second)
}

func TestNewSucceededPageProgressWithRowFailuresIsPartial(t *testing.T) {
	page := migration.NewSucceededPageProgress(15, 10, 5)

	require.Equal(t, migration.PageStatusPartial, page.Status())
	require.Equal(t, 5, page.RowFailures())
}

func TestNewFailedPageProgress(t *testing.T) {
	page := migration.NewFailedPageProgress(errors.New("fetch exploded"))

	require.NotEmpty(t, page.PageID())
	require.Equal(t, migration.PageStatusFailed, page.Status())
	require.Equal(t, 0, page.RowsProcessed(), "Failed page typically has 0 rows processed")
	require.Equal(t, "fetch exploded", page.ErrorDetails())
}

func TestPageProgressJSONRoundTrip(t *testing.T) {
	original := migration.NewSucceededPageProgress(15, 12, 3)

	bytesData, err := json.Marshal(&original)
	require.NoError(t, err)

	var page migration.PageProgress
	require.NoError(t, json.Unmarshal(bytesData, &page))

	require.Equal(t, original.PageID(), page.PageID())
	require.Equal(t, original.Status(), page.Status())
	require.Equal(t, original.RowsProcessed(), page.RowsProcessed())
	require.Equal(t, original.RowsUpdated(), page.RowsUpdated())
	require.Equal(t, original.RowFailures(), page.RowFailures())
	require.WithinDuration(t, original.StartedAt(), page.StartedAt(), time.Microsecond)
}
