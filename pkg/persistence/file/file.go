// Package file provides a file-based persistence implementation backed
// by one JSON document per entity. It serves development setups and
// tests; production deployments use the PostgreSQL implementation.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
)

const (
	dirExecutions     = "executions"
	dirSchedules      = "schedules"
	dirReports        = "reports"
	dirFTPServers     = "ftp_servers"
	dirEmailServers   = "email_servers"
	dirEmailTemplates = "email_templates"
	dirDataSources    = "data_sources"
	dirUsers          = "users"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string
	mu   *sync.Mutex
	inTx bool
}

// NewPersistence creates a file persistence rooted at the given directory.
// A "file://" prefix is stripped so database-URL style configuration works.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot, mu: &sync.Mutex{}}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// WithTx serializes fn against other writers. File storage has no real
// transactions; mutual exclusion is the closest available guarantee.
func (fp *Persistence) WithTx(_ context.Context, fn func(tx persistence.Persistence) error) error {
	if fp.inTx {
		return fn(fp)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fn(&Persistence{root: fp.root, mu: fp.mu, inTx: true})
}

func (fp *Persistence) entityPath(dir, id string) string {
	return filepath.Join(fp.root, dir, id+".json")
}

func (fp *Persistence) writeEntity(dir, id string, entity any) error {
	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	err = os.MkdirAll(filepath.Join(fp.root, dir), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	err = os.WriteFile(fp.entityPath(dir, id), data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write entity file: %w", err)
	}

	return nil
}

func (fp *Persistence) readEntity(dir, id string, entity any, notFound error) error {
	data, err := os.ReadFile(fp.entityPath(dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}

		return fmt.Errorf("failed to read entity file: %w", err)
	}

	err = json.Unmarshal(data, entity)
	if err != nil {
		return fmt.Errorf("failed to unmarshal entity: %w", err)
	}

	return nil
}

// Executions.

func (fp *Persistence) CreateExecution(_ context.Context, execution *models.Execution) error {
	now := time.Now().UTC()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution ID: %w", err)
		}

		execution.ID = id.String()
	}

	if _, err := os.Stat(fp.entityPath(dirExecutions, execution.ID)); err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return fp.writeEntity(dirExecutions, execution.ID, execution)
}

func (fp *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	var execution models.Execution

	err := fp.readEntity(dirExecutions, id, &execution, persistence.ErrExecutionNotFound)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}

func (fp *Persistence) UpdateExecution(_ context.Context, execution *models.Execution) error {
	if _, err := os.Stat(fp.entityPath(dirExecutions, execution.ID)); os.IsNotExist(err) {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	execution.UpdatedAt = time.Now().UTC()

	return fp.writeEntity(dirExecutions, execution.ID, execution)
}

func (fp *Persistence) allExecutions() ([]*models.Execution, error) {
	entries, err := os.ReadDir(filepath.Join(fp.root, dirExecutions))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	executions := make([]*models.Execution, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var execution models.Execution

		id := strings.TrimSuffix(entry.Name(), ".json")

		err := fp.readEntity(dirExecutions, id, &execution, persistence.ErrExecutionNotFound)
		if err != nil {
			return nil, err
		}

		executions = append(executions, &execution)
	}

	return executions, nil
}

func (fp *Persistence) Executions(_ context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	all, err := fp.allExecutions()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Execution, 0, len(all))

	for _, execution := range all {
		if filter.ReportID != "" && execution.ReportID != filter.ReportID {
			continue
		}

		if filter.ScheduleID != "" && execution.ScheduleID != filter.ScheduleID {
			continue
		}

		if filter.Status != "" && execution.Status != filter.Status {
			continue
		}

		matched = append(matched, execution)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}

func (fp *Persistence) LatestExecutionForSchedule(ctx context.Context, scheduleID string) (*models.Execution, error) {
	matched, err := fp.Executions(ctx, persistence.ExecutionFilter{ScheduleID: scheduleID, Limit: 1})
	if err != nil {
		return nil, err
	}

	if len(matched) == 0 {
		return nil, persistence.ErrExecutionNotFound
	}

	return matched[0], nil
}

func (fp *Persistence) HasExecutionSince(_ context.Context, scheduleID string, since time.Time) (bool, error) {
	all, err := fp.allExecutions()
	if err != nil {
		return false, err
	}

	for _, execution := range all {
		if execution.ScheduleID == scheduleID && !execution.CreatedAt.Before(since) {
			return true, nil
		}
	}

	return false, nil
}

func (fp *Persistence) DueRetries(_ context.Context, now time.Time) ([]*models.Execution, error) {
	all, err := fp.allExecutions()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Execution, 0)

	for _, execution := range all {
		if execution.Status != models.ExecutionStatusPending || execution.NextRetryAt == nil {
			continue
		}

		if !execution.NextRetryAt.After(now) {
			due = append(due, execution)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})

	return due, nil
}

func (fp *Persistence) ExecutionsOlderThan(_ context.Context, reportID string, cutoff time.Time) ([]*models.Execution, error) {
	all, err := fp.allExecutions()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Execution, 0)

	for _, execution := range all {
		if execution.ReportID == reportID && execution.CreatedAt.Before(cutoff) && execution.HasArtifact() {
			matched = append(matched, execution)
		}
	}

	return matched, nil
}

func (fp *Persistence) ExpiredRemoteArtifacts(_ context.Context, now time.Time) ([]*models.Execution, error) {
	all, err := fp.allExecutions()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Execution, 0)

	for _, execution := range all {
		if execution.ExpiresAt == nil || execution.DeletedAt != nil || !execution.HasArtifact() {
			continue
		}

		if execution.ExpiresAt.Before(now) {
			matched = append(matched, execution)
		}
	}

	return matched, nil
}

func (fp *Persistence) CompletedWithArtifacts(_ context.Context) ([]*models.Execution, error) {
	all, err := fp.allExecutions()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Execution, 0)

	for _, execution := range all {
		if execution.Status == models.ExecutionStatusCompleted && execution.HasArtifact() {
			matched = append(matched, execution)
		}
	}

	return matched, nil
}

// ConsumeOTP flips a validated, unused code to used. The writer lock
// makes the read-check-write indivisible for concurrent callers.
func (fp *Persistence) ConsumeOTP(ctx context.Context, executionID string, usedAt time.Time) error {
	if !fp.inTx {
		fp.mu.Lock()
		defer fp.mu.Unlock()
	}

	execution, err := fp.ExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	if !execution.OTPValidated || execution.OTPUsedAt != nil {
		return persistence.NewExecutionError("ConsumeOTP", executionID, persistence.ErrOTPConsumed)
	}

	execution.OTPUsedAt = &usedAt
	execution.OTPValidated = false

	return fp.UpdateExecution(ctx, execution)
}

// Schedules.

func (fp *Persistence) ActiveSchedules(_ context.Context) ([]*models.Schedule, error) {
	entries, err := os.ReadDir(filepath.Join(fp.root, dirSchedules))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read schedules directory: %w", err)
	}

	schedules := make([]*models.Schedule, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var schedule models.Schedule

		id := strings.TrimSuffix(entry.Name(), ".json")

		err := fp.readEntity(dirSchedules, id, &schedule, persistence.ErrScheduleNotFound)
		if err != nil {
			return nil, err
		}

		if schedule.IsActive {
			schedules = append(schedules, &schedule)
		}
	}

	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})

	return schedules, nil
}

func (fp *Persistence) ScheduleByID(_ context.Context, id string) (*models.Schedule, error) {
	var schedule models.Schedule

	err := fp.readEntity(dirSchedules, id, &schedule, persistence.ErrScheduleNotFound)
	if err != nil {
		return nil, err
	}

	return &schedule, nil
}

func (fp *Persistence) SaveSchedule(_ context.Context, schedule *models.Schedule) error {
	now := time.Now().UTC()

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	if schedule.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate schedule ID: %w", err)
		}

		schedule.ID = id.String()
	}

	return fp.writeEntity(dirSchedules, schedule.ID, schedule)
}

// Reports.

func (fp *Persistence) ReportByID(_ context.Context, id string) (*models.Report, error) {
	var report models.Report

	err := fp.readEntity(dirReports, id, &report, persistence.ErrReportNotFound)
	if err != nil {
		return nil, err
	}

	return &report, nil
}

func (fp *Persistence) ReportsWithRetention(_ context.Context) ([]*models.Report, error) {
	entries, err := os.ReadDir(filepath.Join(fp.root, dirReports))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read reports directory: %w", err)
	}

	reports := make([]*models.Report, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var report models.Report

		id := strings.TrimSuffix(entry.Name(), ".json")

		err := fp.readEntity(dirReports, id, &report, persistence.ErrReportNotFound)
		if err != nil {
			return nil, err
		}

		if report.IsActive && report.RetentionDays > 0 {
			reports = append(reports, &report)
		}
	}

	return reports, nil
}

func (fp *Persistence) SaveReport(_ context.Context, report *models.Report) error {
	now := time.Now().UTC()

	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}

	report.UpdatedAt = now

	if report.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate report ID: %w", err)
		}

		report.ID = id.String()
	}

	return fp.writeEntity(dirReports, report.ID, report)
}

// Delivery targets and users.

func (fp *Persistence) FTPServerByID(_ context.Context, id string) (*models.FTPServer, error) {
	var server models.FTPServer

	err := fp.readEntity(dirFTPServers, id, &server, persistence.ErrFTPServerNotFound)
	if err != nil {
		return nil, err
	}

	return &server, nil
}

// SaveFTPServer stores a remote-transfer target; used by tests and seeds.
func (fp *Persistence) SaveFTPServer(_ context.Context, server *models.FTPServer) error {
	return fp.writeEntity(dirFTPServers, server.ID, server)
}

func (fp *Persistence) EmailServerByID(_ context.Context, id string) (*models.EmailServer, error) {
	var server models.EmailServer

	err := fp.readEntity(dirEmailServers, id, &server, persistence.ErrEmailServerNotFound)
	if err != nil {
		return nil, err
	}

	return &server, nil
}

// SaveEmailServer stores an SMTP transport; used by tests and seeds.
func (fp *Persistence) SaveEmailServer(_ context.Context, server *models.EmailServer) error {
	return fp.writeEntity(dirEmailServers, server.ID, server)
}

func (fp *Persistence) EmailTemplateByID(_ context.Context, id string) (*models.EmailTemplate, error) {
	var template models.EmailTemplate

	err := fp.readEntity(dirEmailTemplates, id, &template, persistence.ErrEmailTemplateNotFound)
	if err != nil {
		return nil, err
	}

	return &template, nil
}

// SaveEmailTemplate stores an email template; used by tests and seeds.
func (fp *Persistence) SaveEmailTemplate(_ context.Context, template *models.EmailTemplate) error {
	return fp.writeEntity(dirEmailTemplates, template.ID, template)
}

func (fp *Persistence) DataSourceByID(_ context.Context, id string) (*models.DataSource, error) {
	var source models.DataSource

	err := fp.readEntity(dirDataSources, id, &source, persistence.ErrDataSourceNotFound)
	if err != nil {
		return nil, err
	}

	return &source, nil
}

// SaveDataSource stores a data source; used by tests and seeds.
func (fp *Persistence) SaveDataSource(_ context.Context, source *models.DataSource) error {
	return fp.writeEntity(dirDataSources, source.ID, source)
}

func (fp *Persistence) UserByID(_ context.Context, id string) (*models.User, error) {
	var user models.User

	err := fp.readEntity(dirUsers, id, &user, persistence.ErrUserNotFound)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// SaveUser stores a user; used by tests and seeds.
func (fp *Persistence) SaveUser(_ context.Context, user *models.User) error {
	return fp.writeEntity(dirUsers, user.ID, user)
}

func (fp *Persistence) AdminUsers(_ context.Context) ([]*models.User, error) {
	entries, err := os.ReadDir(filepath.Join(fp.root, dirUsers))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read users directory: %w", err)
	}

	admins := make([]*models.User, 0)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var user models.User

		id := strings.TrimSuffix(entry.Name(), ".json")

		err := fp.readEntity(dirUsers, id, &user, persistence.ErrUserNotFound)
		if err != nil {
			return nil, err
		}

		if user.IsAdmin {
			admins = append(admins, &user)
		}
	}

	sort.Slice(admins, func(i, j int) bool {
		return admins[i].Email < admins[j].Email
	})

	return admins, nil
}
