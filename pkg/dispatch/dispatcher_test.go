package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence/file"
	"github.com/reportd/reportd/pkg/queue"
)

type recordingPusher struct {
	pushed []*queue.Envelope
	err    error
}

func (p *recordingPusher) Push(_ context.Context, envelope *queue.Envelope) error {
	if p.err != nil {
		return p.err
	}

	p.pushed = append(p.pushed, envelope)

	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *file.Persistence, *recordingPusher) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	pusher := &recordingPusher{}

	return NewDispatcher(slog.Default(), persist, pusher), persist, pusher
}

func seedSQLReport(t *testing.T, persist *file.Persistence, mutate func(*models.Report)) *models.Report {
	t.Helper()

	report := &models.Report{
		ID:            "report-1",
		Name:          "Daily Revenue",
		Type:          models.ReportTypeSQL,
		SQLDefinition: "SELECT * FROM revenue",
		IsActive:      true,
	}

	if mutate != nil {
		mutate(report)
	}

	require.NoError(t, persist.SaveReport(context.Background(), report))

	return report
}

func seedExecution(t *testing.T, persist *file.Persistence, execution *models.Execution) *models.Execution {
	t.Helper()

	require.NoError(t, persist.CreateExecution(context.Background(), execution))

	return execution
}

func TestDispatch_SuccessMovesExecutionToProcessing(t *testing.T) {
	ctx := context.Background()
	dispatcher, persist, pusher := newTestDispatcher(t)
	seedSQLReport(t, persist, nil)

	execution := seedExecution(t, persist, &models.Execution{
		ReportID:           "report-1",
		Status:             models.ExecutionStatusPending,
		MaxRetries:         3,
		NotificationEmails: []string{"ops@example.com"},
	})

	require.NoError(t, dispatcher.Dispatch(ctx, execution))

	require.Len(t, pusher.pushed, 1)
	envelope := pusher.pushed[0]
	assert.Equal(t, execution.ID, envelope.ExecutionID)
	assert.Equal(t, queue.TaskTypeExecute, envelope.TaskType)
	assert.Equal(t, "SELECT * FROM revenue", envelope.SQLDefinition)
	assert.Equal(t, []string{"ops@example.com"}, envelope.NotificationEmails)
	assert.NotEqual(t, execution.ID, envelope.JobID, "job id is distinct from the execution id")

	stored, err := persist.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusProcessing, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.NotNil(t, stored.StartedAt)
	assert.Nil(t, stored.NextRetryAt)
}

func TestDispatch_EnvelopeDefaults(t *testing.T) {
	ctx := context.Background()
	dispatcher, persist, pusher := newTestDispatcher(t)
	seedSQLReport(t, persist, nil)

	execution := seedExecution(t, persist, &models.Execution{
		ReportID: "report-1",
		Status:   models.ExecutionStatusPending,
	})

	require.NoError(t, dispatcher.Dispatch(ctx, execution))

	require.Len(t, pusher.pushed, 1)
	envelope := pusher.pushed[0]
	assert.Equal(t, queue.PriorityMedium, envelope.Priority)
	assert.Equal(t, queue.DefaultTimeoutSeconds, envelope.TimeoutSeconds)
	assert.Equal(t, queue.DefaultMaxAttempts, envelope.RetryPolicy.MaxAttempts)
	assert.Equal(t, queue.DefaultBackoffStrategy, envelope.RetryPolicy.BackoffStrategy)
	assert.Equal(t, queue.DefaultMaxBackoffHours, envelope.RetryPolicy.MaxBackoffHours)
}

func TestDispatch_PriorityDerivation(t *testing.T) {
	testCases := []struct {
		name              string
		executionPriority string
		critical          bool
		expected          string
	}{
		{name: "explicit priority wins", executionPriority: "low", critical: true, expected: queue.PriorityLow},
		{name: "critical report defaults to high", critical: true, expected: queue.PriorityHigh},
		{name: "normal report defaults to medium", expected: queue.PriorityMedium},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dispatcher, persist, pusher := newTestDispatcher(t)
			seedSQLReport(t, persist, func(r *models.Report) {
				r.IsCritical = tc.critical
				r.TimeoutSeconds = 600
			})

			execution := seedExecution(t, persist, &models.Execution{
				ReportID: "report-1",
				Status:   models.ExecutionStatusPending,
				Priority: tc.executionPriority,
			})

			require.NoError(t, dispatcher.Dispatch(ctx, execution))
			require.Len(t, pusher.pushed, 1)
			assert.Equal(t, tc.expected, pusher.pushed[0].Priority)
			assert.Equal(t, 600, pusher.pushed[0].TimeoutSeconds)
		})
	}
}

func TestDispatch_VisualReportCompilesForDataSourceDialect(t *testing.T) {
	ctx := context.Background()
	dispatcher, persist, pusher := newTestDispatcher(t)

	require.NoError(t, persist.SaveDataSource(ctx, &models.DataSource{ID: "ds-1", Type: "postgres"}))
	seedSQLReport(t, persist, func(r *models.Report) {
		r.Type = models.ReportTypeVisual
		r.SQLDefinition = ""
		r.DataSourceID = "ds-1"
		r.VisualDefinition = map[string]any{
			"table":   "orders",
			"columns": []any{"id", "total"},
			"filters": []any{
				map[string]any{"column": "total", "operator": "gt", "value": 100},
			},
		}
	})

	execution := seedExecution(t, persist, &models.Execution{
		ReportID:   "report-1",
		Status:     models.ExecutionStatusPending,
		Parameters: map[string]any{"rls_department_id": "dept-42"},
	})

	require.NoError(t, dispatcher.Dispatch(ctx, execution))

	require.Len(t, pusher.pushed, 1)
	envelope := pusher.pushed[0]
	assert.Equal(t, `SELECT "id", "total" FROM "orders" WHERE "total" > ? AND "department_id" = ?`, envelope.SQLDefinition)
	// The filter value round-trips through JSON storage, so it comes back
	// as a float64; the restriction follows it in placeholder order.
	assert.Equal(t, []any{float64(100), "dept-42"}, envelope.Bindings)
}

func TestDispatch_NativeSQLBindsParametersPositionally(t *testing.T) {
	ctx := context.Background()
	dispatcher, persist, pusher := newTestDispatcher(t)
	seedSQLReport(t, persist, func(r *models.Report) {
		r.SQLDefinition = "SELECT * FROM revenue WHERE region = ? AND year = ?"
	})

	execution := seedExecution(t, persist, &models.Execution{
		ReportID:   "report-1",
		Status:     models.ExecutionStatusPending,
		Parameters: map[string]any{"year": 2026, "region": "emea"},
	})

	require.NoError(t, dispatcher.Dispatch(ctx, execution))

	require.Len(t, pusher.pushed, 1)
	// Parameter values flatten into a positional list, ordered by key.
	assert.Equal(t, []any{"emea", 2026}, pusher.pushed[0].Bindings)
}

func TestDispatch_CompileFailureMarksExecutionFailed(t *testing.T) {
	ctx := context.Background()
	dispatcher, persist, pusher := newTestDispatcher(t)
	seedSQLReport(t, persist, func(r *models.Report) {
		r.Type = models.ReportTypeVisual
		r.VisualDefinition = map[string]any{"columns": []any{"id"}}
	})

	execution := seedExecution(t, persist, &models.Execution{
		ReportID: "report-1",
		Status:   models.ExecutionStatusPending,
	})

	err := dispatcher.Dispatch(ctx, execution)
	require.Error(t, err)
	assert.Empty(t, pusher.pushed)

	stored, storedErr := persist.ExecutionByID(ctx, execution.ID)
	require.NoError(t, storedErr)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.NotNil(t, stored.FinishedAt)
	assert.True(t, strings.HasPrefix(stored.ErrorLog, "[Dispatch] "))
}

func TestDispatch_PushFailureMarksExecutionFailed(t *testing.T) {
	ctx := context.Background()
	dispatcher, persist, pusher := newTestDispatcher(t)
	seedSQLReport(t, persist, nil)
	pusher.err = errors.New("redis down")

	execution := seedExecution(t, persist, &models.Execution{
		ReportID: "report-1",
		Status:   models.ExecutionStatusPending,
	})

	err := dispatcher.Dispatch(ctx, execution)
	require.Error(t, err)

	stored, storedErr := persist.ExecutionByID(ctx, execution.ID)
	require.NoError(t, storedErr)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorLog, "queue push failed")
	assert.Contains(t, stored.ErrorLog, "redis down")
}
