package migration_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/fieldsafe/internal/domain/migration"
)

func TestNewProgressCursor(t *testing.T) {
	cursor, err := migration.NewProgressCursor(40)
	require.NoError(t, err)
	require.Equal(t, 0, cursor.Processed())
	require.Equal(t, 40, cursor.Total())
	require.False(t, cursor.Done())
}

func TestNewProgressCursorRejectsNegativeTotal(t *testing.T) {
	_, err := migration.NewProgressCursor(-1)
	require.Error(t, err)
}

func TestProgressCursorCompletionFraction(t *testing.T) {
	cursor, err := migration.NewProgressCursor(40)
	require.NoError(t, err)

	require.NoError(t, cursor.Advance(15))
	require.InDelta(t, 0.375, cursor.CompletionFraction(), 1e-9)
	require.False(t, cursor.Done())

	require.NoError(t, cursor.Advance(15))
	require.InDelta(t, 0.75, cursor.CompletionFraction(), 1e-9)
	require.False(t, cursor.Done())

	require.NoError(t, cursor.Advance(10))
	require.InDelta(t, 1.0, cursor.CompletionFraction(), 1e-9)
	require.True(t, cursor.Done())
}

func TestProgressCursorAdvanceClampsAtTotal(t *testing.T) {
	cursor, err := migration.NewProgressCursor(10)
	require.NoError(t, err)

	require.NoError(t, cursor.Advance(25))
	require.Equal(t, 10, cursor.Processed())
	require.True(t, cursor.Done())
}

func TestProgressCursorAdvanceRejectsNegative(t *testing.T) {
	cursor, err := migration.NewProgressCursor(10)
	require.NoError(t, err)
	require.Error(t, cursor.Advance(-1))
}

func TestProgressCursorEmptyDatasetIsComplete(t *testing.T) {
	cursor, err := migration.NewProgressCursor(0)
	require.NoError(t, err)
	require.Equal(t, float64(1), cursor.CompletionFraction())
	require.True(t, cursor.Done())
}

func TestProgressCursorMarkExhausted(t *testing.T) {
	cursor, err := migration.NewProgressCursor(40)
	require.NoError(t, err)
	require.NoError(t, cursor.Advance(5))

	cursor.MarkExhausted()
	require.Equal(t, 40, cursor.Processed())
	require.True(t, cursor.Done())
}

func TestProgressCursorJSONRoundTrip(t *testing.T) {
	original, err := migration.NewProgressCursor(40)
	require.NoError(t, err)
	require.NoError(t, original.Advance(15))

	bytesData, err := json.Marshal(original)
	require.NoError(t, err)

	var cursor migration.ProgressCursor
	require.NoError(t, json.Unmarshal(bytesData, &cursor))

	require.Equal(t, original.Processed(), cursor.Processed())
	require.Equal(t, original.Total(), cursor.Total())
}
