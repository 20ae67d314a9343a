package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
)

func TestExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	persist := NewPersistence(t.TempDir())

	execution := &models.Execution{
		ReportID:   "report-1",
		ScheduleID: "sched-1",
		Status:     models.ExecutionStatusPending,
		Parameters: map[string]any{"region": "emea"},
		MaxRetries: 3,
	}

	require.NoError(t, persist.CreateExecution(ctx, execution))
	assert.NotEmpty(t, execution.ID)
	assert.False(t, execution.CreatedAt.IsZero())

	// Creating the same id twice conflicts.
	err := persist.CreateExecution(ctx, &models.Execution{ID: execution.ID, ReportID: "report-1"})
	assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)

	loaded, err := persist.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ReportID, loaded.ReportID)
	assert.Equal(t, "emea", loaded.Parameters["region"])

	loaded.Status = models.ExecutionStatusProcessing
	require.NoError(t, persist.UpdateExecution(ctx, loaded))

	reloaded, err := persist.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusProcessing, reloaded.Status)

	_, err = persist.ExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	err = persist.UpdateExecution(ctx, &models.Execution{ID: "missing", ReportID: "report-1"})
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestExecutionsFilterAndOrdering(t *testing.T) {
	ctx := context.Background()
	persist := NewPersistence(t.TempDir())

	base := time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC)

	for i, spec := range []struct {
		id       string
		schedule string
		status   models.ExecutionStatus
	}{
		{id: "exec-a", schedule: "sched-1", status: models.ExecutionStatusCompleted},
		{id: "exec-b", schedule: "sched-1", status: models.ExecutionStatusFailed},
		{id: "exec-c", schedule: "sched-2", status: models.ExecutionStatusCompleted},
	} {
		require.NoError(t, persist.CreateExecution(ctx, &models.Execution{
			ID:         spec.id,
			ReportID:   "report-1",
			ScheduleID: spec.schedule,
			Status:     spec.status,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	bySchedule, err := persist.Executions(ctx, persistence.ExecutionFilter{ScheduleID: "sched-1"})
	require.NoError(t, err)
	require.Len(t, bySchedule, 2)
	// Newest first.
	assert.Equal(t, "exec-b", bySchedule[0].ID)

	byStatus, err := persist.Executions(ctx, persistence.ExecutionFilter{Status: models.ExecutionStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	limited, err := persist.Executions(ctx, persistence.ExecutionFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "exec-c", limited[0].ID)

	latest, err := persist.LatestExecutionForSchedule(ctx, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-b", latest.ID)

	_, err = persist.LatestExecutionForSchedule(ctx, "sched-9")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	fired, err := persist.HasExecutionSince(ctx, "sched-1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = persist.HasExecutionSince(ctx, "sched-1", base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestDueRetriesOrdering(t *testing.T) {
	ctx := context.Background()
	persist := NewPersistence(t.TempDir())

	now := time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC)
	early := now.Add(-2 * time.Minute)
	late := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	for _, spec := range []struct {
		id      string
		status  models.ExecutionStatus
		retryAt *time.Time
	}{
		{id: "exec-late", status: models.ExecutionStatusPending, retryAt: &late},
		{id: "exec-early", status: models.ExecutionStatusPending, retryAt: &early},
		{id: "exec-future", status: models.ExecutionStatusPending, retryAt: &future},
		{id: "exec-failed", status: models.ExecutionStatusFailed, retryAt: &early},
		{id: "exec-no-retry", status: models.ExecutionStatusPending},
	} {
		require.NoError(t, persist.CreateExecution(ctx, &models.Execution{
			ID:          spec.id,
			ReportID:    "report-1",
			Status:      spec.status,
			NextRetryAt: spec.retryAt,
		}))
	}

	due, err := persist.DueRetries(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "exec-early", due[0].ID)
	assert.Equal(t, "exec-late", due[1].ID)
}

func TestScheduleAndCatalogRoundTrips(t *testing.T) {
	ctx := context.Background()
	persist := NewPersistence(t.TempDir())

	schedule := &models.Schedule{
		ReportID:         "report-1",
		Frequency:        models.FrequencyDaily,
		FrequencyOptions: models.FrequencyOptions{Hour: 6},
		DeliveryMode:     models.DeliveryModeBoth,
		FTPServerIDs:     []string{"ftp-1"},
		IsActive:         true,
	}
	require.NoError(t, persist.SaveSchedule(ctx, schedule))
	require.NotEmpty(t, schedule.ID)

	inactive := &models.Schedule{ReportID: "report-1", Frequency: models.FrequencyDaily}
	require.NoError(t, persist.SaveSchedule(ctx, inactive))

	active, err := persist.ActiveSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, schedule.ID, active[0].ID)
	assert.Equal(t, models.DeliveryModeBoth, active[0].DeliveryMode)

	require.NoError(t, persist.SaveReport(ctx, &models.Report{
		ID: "report-1", Name: "Daily Revenue", RetentionDays: 7, IsActive: true,
	}))
	require.NoError(t, persist.SaveReport(ctx, &models.Report{
		ID: "report-2", Name: "No Retention", IsActive: true,
	}))

	retained, err := persist.ReportsWithRetention(ctx)
	require.NoError(t, err)
	require.Len(t, retained, 1)
	assert.Equal(t, "report-1", retained[0].ID)

	require.NoError(t, persist.SaveUser(ctx, &models.User{ID: "u1", Email: "b@example.com", IsAdmin: true}))
	require.NoError(t, persist.SaveUser(ctx, &models.User{ID: "u2", Email: "a@example.com", IsAdmin: true}))
	require.NoError(t, persist.SaveUser(ctx, &models.User{ID: "u3", Email: "c@example.com"}))

	admins, err := persist.AdminUsers(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, "a@example.com", admins[0].Email)
}

func TestConsumeOTPIsSingleUse(t *testing.T) {
	ctx := context.Background()
	persist := NewPersistence(t.TempDir())

	expiry := time.Now().UTC().Add(time.Hour)
	require.NoError(t, persist.CreateExecution(ctx, &models.Execution{
		ID:           "exec-1",
		ReportID:     "report-1",
		Status:       models.ExecutionStatusCompleted,
		OTPHash:      "hash",
		OTPExpiresAt: &expiry,
		OTPValidated: true,
	}))

	now := time.Now().UTC()
	require.NoError(t, persist.ConsumeOTP(ctx, "exec-1", now))

	stored, err := persist.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	require.NotNil(t, stored.OTPUsedAt)
	assert.False(t, stored.OTPValidated)

	// A second consume of the same code is refused.
	err = persist.ConsumeOTP(ctx, "exec-1", now)
	assert.ErrorIs(t, err, persistence.ErrOTPConsumed)
}

func TestWithTxSerializesWriters(t *testing.T) {
	ctx := context.Background()
	persist := NewPersistence(t.TempDir())

	require.NoError(t, persist.CreateExecution(ctx, &models.Execution{
		ID: "exec-1", ReportID: "report-1", Status: models.ExecutionStatusPending,
	}))

	err := persist.WithTx(ctx, func(tx persistence.Persistence) error {
		execution, err := tx.ExecutionByID(ctx, "exec-1")
		if err != nil {
			return err
		}

		execution.Status = models.ExecutionStatusProcessing

		// Nested transactional calls reuse the surrounding scope instead
		// of deadlocking on the writer lock.
		return tx.WithTx(ctx, func(inner persistence.Persistence) error {
			return inner.UpdateExecution(ctx, execution)
		})
	})
	require.NoError(t, err)

	stored, err := persist.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusProcessing, stored.Status)
}
