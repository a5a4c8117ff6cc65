package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/pkg/common/logger"
)

func setupRunnerTestSuite(pageSize int) (*BatchRunner, *mockUserStore) {
	users := new(mockUserStore)
	tracer := noop.NewTracerProvider().Tracer("test")
	codec := NewRowCodec(&stubCrypto{}, logger.Noop(), tracer)
	runner := NewBatchRunner(users, codec, pageSize, logger.Noop(), tracer, NoopMetrics())
	return runner, users
}

func TestBatchRunnerPagesThroughTable(t *testing.T) {
	ctx := context.Background()
	runner, users := setupRunnerTestSuite(15)

	pages := [][]domain.UserRow{rowFixtures(15), rowFixtures(15), rowFixtures(10)}
	users.On("Count", mock.Anything).Return(40, nil).Once()
	users.On("FetchPage", mock.Anything, 15, 0).Return(pages[0], nil).Once()
	users.On("FetchPage", mock.Anything, 15, 15).Return(pages[1], nil).Once()
	users.On("FetchPage", mock.Anything, 15, 30).Return(pages[2], nil).Once()
	users.On("ApplyFieldChanges", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	job := domain.NewJob(domain.OperationEncrypt, domain.ContextNone)

	require.NoError(t, runner.ProcessPage(ctx, job))
	require.True(t, job.Seeded())
	require.InDelta(t, 0.375, job.CompletionFraction(), 1e-9)
	require.False(t, job.Done())

	require.NoError(t, runner.ProcessPage(ctx, job))
	require.InDelta(t, 0.75, job.CompletionFraction(), 1e-9)
	require.False(t, job.Done())

	require.NoError(t, runner.ProcessPage(ctx, job))
	require.InDelta(t, 1.0, job.CompletionFraction(), 1e-9)
	require.True(t, job.Done())

	require.Equal(t, 40, job.Summary().UpdatedCount())
	require.Len(t, job.Pages(), 3)
	require.Equal(t, 0, job.FailedPages())
	users.AssertExpectations(t)
}

func TestBatchRunnerToleratesRowUpdateFailures(t *testing.T) {
	ctx := context.Background()
	runner, users := setupRunnerTestSuite(15)

	rows := rowFixtures(3)
	users.On("Count", mock.Anything).Return(3, nil).Once()
	users.On("FetchPage", mock.Anything, 15, 0).Return(rows, nil).Once()
	users.On("ApplyFieldChanges", mock.Anything, rows[0].ID(), mock.Anything).Return(true, nil).Once()
	users.On("ApplyFieldChanges", mock.Anything, rows[1].ID(), mock.Anything).
		Return(false, errors.New("row locked")).Once()
	users.On("ApplyFieldChanges", mock.Anything, rows[2].ID(), mock.Anything).Return(true, nil).Once()

	job := domain.NewJob(domain.OperationEncrypt, domain.ContextNone)
	require.NoError(t, runner.ProcessPage(ctx, job))

	// The failing row is skipped but still counted as processed.
	require.True(t, job.Done())
	require.Equal(t, 2, job.Summary().UpdatedCount())
	require.NotContains(t, job.Summary().UpdatedUserIDs(), rows[1].ID())
	require.Equal(t, 1, job.FailedPages())
	require.Equal(t, domain.PageStatusPartial, job.Pages()[0].Status())
	users.AssertExpectations(t)
}

func TestBatchRunnerMarksExhaustedOnEmptyPage(t *testing.T) {
	ctx := context.Background()
	runner, users := setupRunnerTestSuite(15)

	// The count overcounted: 20 seeded, only 15 real rows.
	users.On("Count", mock.Anything).Return(20, nil).Once()
	users.On("FetchPage", mock.Anything, 15, 0).Return(rowFixtures(15), nil).Once()
	users.On("FetchPage", mock.Anything, 15, 15).Return([]domain.UserRow{}, nil).Once()
	users.On("ApplyFieldChanges", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	job := domain.NewJob(domain.OperationEncrypt, domain.ContextNone)
	require.NoError(t, runner.ProcessPage(ctx, job))
	require.False(t, job.Done())

	require.NoError(t, runner.ProcessPage(ctx, job))
	require.True(t, job.Done())
	require.Equal(t, float64(1), job.CompletionFraction())
	users.AssertExpectations(t)
}

func TestBatchRunnerCountFailureAborts(t *testing.T) {
	ctx := context.Background()
	runner, users := setupRunnerTestSuite(15)

	users.On("Count", mock.Anything).Return(0, errors.New("connection refused")).Once()

	job := domain.NewJob(domain.OperationEncrypt, domain.ContextNone)
	err := runner.ProcessPage(ctx, job)
	require.Error(t, err)
	require.False(t, job.Seeded())
}

func TestBatchRunnerFetchFailureLeavesJobResumable(t *testing.T) {
	ctx := context.Background()
	runner, users := setupRunnerTestSuite(15)

	users.On("Count", mock.Anything).Return(40, nil).Once()
	users.On("FetchPage", mock.Anything, 15, 0).Return(nil, errors.New("connection reset")).Once()

	job := domain.NewJob(domain.OperationEncrypt, domain.ContextNone)
	err := runner.ProcessPage(ctx, job)
	require.Error(t, err)

	// The job stays in progress at cursor 0; the same invocation can be
	// retried with the persisted state.
	require.True(t, job.Seeded())
	require.Equal(t, 0, job.Cursor().Processed())
	require.Equal(t, domain.JobStatusInProgress, job.Status())
}

func TestBatchRunnerSkipsWriteWhenNothingChanged(t *testing.T) {
	ctx := context.Background()
	runner, users := setupRunnerTestSuite(15)

	// Decrypting plaintext changes nothing, so no writes happen.
	users.On("Count", mock.Anything).Return(2, nil).Once()
	users.On("FetchPage", mock.Anything, 15, 0).Return(rowFixtures(2), nil).Once()

	job := domain.NewJob(domain.OperationDecrypt, domain.ContextNone)
	require.NoError(t, runner.ProcessPage(ctx, job))

	require.True(t, job.Done())
	require.Equal(t, 0, job.Summary().UpdatedCount())
	users.AssertNotCalled(t, "ApplyFieldChanges", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewBatchRunnerDefaultsPageSize(t *testing.T) {
	runner, _ := setupRunnerTestSuite(0)
	require.Equal(t, DefaultPageSize, runner.PageSize())
}
