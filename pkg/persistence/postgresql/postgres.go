// Package postgresql provides the PostgreSQL persistence implementation
// for reports, schedules and executions.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
	"github.com/reportd/reportd/pkg/persistence/sqlbase"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx,
// so repositories run unchanged inside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	inTx          bool
	logger        *slog.Logger
	executionRepo *ExecutionRepository
	catalogRepo   *CatalogRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:            database,
		logger:        logger,
		executionRepo: NewExecutionRepository(database, logger),
		catalogRepo:   NewCatalogRepository(database, logger),
	}

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.inTx {
		return nil
	}

	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// WithTx runs fn against a transaction-scoped persistence. A nested call
// inside a transaction reuses the surrounding one.
func (p *Persistence) WithTx(ctx context.Context, fn func(tx persistence.Persistence) error) error {
	if p.inTx {
		return fn(p)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	scoped := &Persistence{
		db:            p.db,
		inTx:          true,
		logger:        p.logger,
		executionRepo: NewExecutionRepository(tx, p.logger),
		catalogRepo:   NewCatalogRepository(tx, p.logger),
	}

	err = fn(scoped)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Executions.

func (p *Persistence) CreateExecution(ctx context.Context, execution *models.Execution) error {
	return p.executionRepo.Create(ctx, execution)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	return p.executionRepo.GetByID(ctx, id)
}

func (p *Persistence) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	return p.executionRepo.Update(ctx, execution)
}

func (p *Persistence) Executions(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	return p.executionRepo.List(ctx, filter)
}

func (p *Persistence) LatestExecutionForSchedule(ctx context.Context, scheduleID string) (*models.Execution, error) {
	return p.executionRepo.LatestForSchedule(ctx, scheduleID)
}

func (p *Persistence) HasExecutionSince(ctx context.Context, scheduleID string, since time.Time) (bool, error) {
	return p.executionRepo.HasSince(ctx, scheduleID, since)
}

func (p *Persistence) DueRetries(ctx context.Context, now time.Time) ([]*models.Execution, error) {
	return p.executionRepo.DueRetries(ctx, now)
}

func (p *Persistence) ExecutionsOlderThan(ctx context.Context, reportID string, cutoff time.Time) ([]*models.Execution, error) {
	return p.executionRepo.OlderThan(ctx, reportID, cutoff)
}

func (p *Persistence) ExpiredRemoteArtifacts(ctx context.Context, now time.Time) ([]*models.Execution, error) {
	return p.executionRepo.ExpiredRemoteArtifacts(ctx, now)
}

func (p *Persistence) CompletedWithArtifacts(ctx context.Context) ([]*models.Execution, error) {
	return p.executionRepo.CompletedWithArtifacts(ctx)
}

func (p *Persistence) ConsumeOTP(ctx context.Context, executionID string, usedAt time.Time) error {
	return p.executionRepo.ConsumeOTP(ctx, executionID, usedAt)
}

// Schedules.

func (p *Persistence) ActiveSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return p.catalogRepo.ActiveSchedules(ctx)
}

func (p *Persistence) ScheduleByID(ctx context.Context, id string) (*models.Schedule, error) {
	return p.catalogRepo.ScheduleByID(ctx, id)
}

func (p *Persistence) SaveSchedule(ctx context.Context, schedule *models.Schedule) error {
	return p.catalogRepo.SaveSchedule(ctx, schedule)
}

// Reports.

func (p *Persistence) ReportByID(ctx context.Context, id string) (*models.Report, error) {
	return p.catalogRepo.ReportByID(ctx, id)
}

func (p *Persistence) ReportsWithRetention(ctx context.Context) ([]*models.Report, error) {
	return p.catalogRepo.ReportsWithRetention(ctx)
}

func (p *Persistence) SaveReport(ctx context.Context, report *models.Report) error {
	return p.catalogRepo.SaveReport(ctx, report)
}

// Delivery targets and users.

func (p *Persistence) FTPServerByID(ctx context.Context, id string) (*models.FTPServer, error) {
	return p.catalogRepo.FTPServerByID(ctx, id)
}

func (p *Persistence) EmailServerByID(ctx context.Context, id string) (*models.EmailServer, error) {
	return p.catalogRepo.EmailServerByID(ctx, id)
}

func (p *Persistence) EmailTemplateByID(ctx context.Context, id string) (*models.EmailTemplate, error) {
	return p.catalogRepo.EmailTemplateByID(ctx, id)
}

func (p *Persistence) DataSourceByID(ctx context.Context, id string) (*models.DataSource, error) {
	return p.catalogRepo.DataSourceByID(ctx, id)
}

func (p *Persistence) UserByID(ctx context.Context, id string) (*models.User, error) {
	return p.catalogRepo.UserByID(ctx, id)
}

func (p *Persistence) AdminUsers(ctx context.Context) ([]*models.User, error) {
	return p.catalogRepo.AdminUsers(ctx)
}
