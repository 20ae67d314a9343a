// Package persistence provides the data storage abstraction layer for
// reports, schedules, executions and delivery targets.
package persistence

import (
	"context"
	"time"

	"github.com/reportd/reportd/pkg/models"
)

// ExecutionFilter narrows execution listings. Zero values mean "any".
type ExecutionFilter struct {
	ReportID   string
	ScheduleID string
	Status     models.ExecutionStatus
	Limit      int
}

type Persistence interface {
	// Executions.
	CreateExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	UpdateExecution(ctx context.Context, execution *models.Execution) error
	Executions(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error)

	// LatestExecutionForSchedule returns the most recently created
	// execution for a schedule, or ErrExecutionNotFound when none exist.
	LatestExecutionForSchedule(ctx context.Context, scheduleID string) (*models.Execution, error)

	// HasExecutionSince reports whether the schedule already produced an
	// execution at or after the given instant. The evaluator uses it to
	// fire at most once per minute.
	HasExecutionSince(ctx context.Context, scheduleID string, since time.Time) (bool, error)

	// DueRetries returns failed-then-rescheduled executions whose
	// next_retry_at has passed.
	DueRetries(ctx context.Context, now time.Time) ([]*models.Execution, error)

	// ExecutionsOlderThan returns a report's executions created before the
	// cutoff that still reference an artifact.
	ExecutionsOlderThan(ctx context.Context, reportID string, cutoff time.Time) ([]*models.Execution, error)

	// ExpiredRemoteArtifacts returns executions whose expires_at has
	// passed, that still reference an artifact and were not yet swept.
	ExpiredRemoteArtifacts(ctx context.Context, now time.Time) ([]*models.Execution, error)

	// CompletedWithArtifacts returns completed executions that still
	// reference an artifact, for retention-based expiry sweeps.
	CompletedWithArtifacts(ctx context.Context) ([]*models.Execution, error)

	// ConsumeOTP atomically marks the execution's validated, unused
	// one-time code as used. Returns ErrOTPConsumed when no such code
	// exists, so concurrent downloads of the same link cannot both pass.
	ConsumeOTP(ctx context.Context, executionID string, usedAt time.Time) error

	// Schedules.
	ActiveSchedules(ctx context.Context) ([]*models.Schedule, error)
	ScheduleByID(ctx context.Context, id string) (*models.Schedule, error)
	SaveSchedule(ctx context.Context, schedule *models.Schedule) error

	// Reports.
	ReportByID(ctx context.Context, id string) (*models.Report, error)
	ReportsWithRetention(ctx context.Context) ([]*models.Report, error)
	SaveReport(ctx context.Context, report *models.Report) error

	// Delivery targets and users.
	FTPServerByID(ctx context.Context, id string) (*models.FTPServer, error)
	EmailServerByID(ctx context.Context, id string) (*models.EmailServer, error)
	EmailTemplateByID(ctx context.Context, id string) (*models.EmailTemplate, error)
	DataSourceByID(ctx context.Context, id string) (*models.DataSource, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	AdminUsers(ctx context.Context) ([]*models.User, error)

	// WithTx runs fn inside a transaction; fn receives a Persistence
	// scoped to that transaction. Implementations without transactional
	// storage serialize fn against other writers instead.
	WithTx(ctx context.Context, fn func(tx Persistence) error) error

	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
