package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecutionAppendErrorLog(t *testing.T) {
	execution := &Execution{}

	execution.AppendErrorLog("")
	assert.Empty(t, execution.ErrorLog)

	execution.AppendErrorLog("first failure")
	assert.Equal(t, "first failure", execution.ErrorLog)

	execution.AppendErrorLog("[System] Scheduled retry 1 in 60 seconds.")
	assert.Equal(t, "first failure\n[System] Scheduled retry 1 in 60 seconds.", execution.ErrorLog)
}

func TestExecutionHasArtifact(t *testing.T) {
	execution := &Execution{}
	assert.False(t, execution.HasArtifact())

	empty := ""
	execution.OutputPath = &empty
	assert.False(t, execution.HasArtifact())

	artifact := "reports/out.csv"
	execution.OutputPath = &artifact
	assert.True(t, execution.HasArtifact())
}

func TestExecutionRetriesExhausted(t *testing.T) {
	execution := &Execution{RetryCount: 2, MaxRetries: 3}
	assert.False(t, execution.RetriesExhausted())

	execution.RetryCount = 3
	assert.True(t, execution.RetriesExhausted())
}

func TestExecutionExpiryAt_LastDownloadWins(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	execution := &Execution{CreatedAt: created}

	assert.Equal(t, created.AddDate(0, 0, 7), execution.ExpiryAt(7))

	downloaded := time.Date(2026, 3, 5, 16, 0, 0, 0, time.UTC)
	execution.LastDownloadedAt = &downloaded

	assert.Equal(t, downloaded.AddDate(0, 0, 7), execution.ExpiryAt(7))
}

func TestScheduleStartedBy(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

	schedule := &Schedule{}
	assert.True(t, schedule.StartedBy(now))

	future := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	schedule.StartDate = &future
	assert.False(t, schedule.StartedBy(now))

	past := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	schedule.StartDate = &past
	assert.True(t, schedule.StartedBy(now))

	// Same-day start dates allow firing regardless of the start time's clock.
	sameDay := time.Date(2026, 3, 15, 23, 0, 0, 0, time.UTC)
	schedule.StartDate = &sameDay
	assert.True(t, schedule.StartedBy(now))

	schedule.StartHour = "10:00:00"
	assert.False(t, schedule.StartedBy(now))

	schedule.StartHour = "09:00:00"
	assert.True(t, schedule.StartedBy(now))
}
