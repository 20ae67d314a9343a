package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
)

// CatalogRepository handles the read-mostly configuration entities:
// schedules, reports, delivery targets, templates and users.
type CatalogRepository struct {
	db     querier
	logger *slog.Logger
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db querier, logger *slog.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, logger: logger}
}

const scheduleColumns = `
		id
	  , report_id
	  , frequency
	  , frequency_options
	  , start_date
	  , start_hour
	  , delivery_mode
	  , email_server_id
	  , email_template_id
	  , ftp_server_ids
	  , recipients
	  , parameters
	  , is_active
	  , created_at
	  , updated_at
`

// ActiveSchedules returns all schedules eligible for evaluation.
func (r *CatalogRepository) ActiveSchedules(ctx context.Context) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE is_active = TRUE ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}

	defer func(ctx context.Context, r *CatalogRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

// ScheduleByID returns a schedule by its ID.
func (r *CatalogRepository) ScheduleByID(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	return schedule, nil
}

// SaveSchedule upserts a schedule.
func (r *CatalogRepository) SaveSchedule(ctx context.Context, schedule *models.Schedule) error {
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

	optionsJSON, err := json.Marshal(schedule.FrequencyOptions)
	if err != nil {
		return fmt.Errorf("failed to marshal frequency options: %w", err)
	}

	ftpServersJSON, err := json.Marshal(schedule.FTPServerIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal ftp server ids: %w", err)
	}

	recipientsJSON, err := json.Marshal(schedule.Recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}

	parametersJSON, err := json.Marshal(schedule.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			report_id = EXCLUDED.report_id
		  , frequency = EXCLUDED.frequency
		  , frequency_options = EXCLUDED.frequency_options
		  , start_date = EXCLUDED.start_date
		  , start_hour = EXCLUDED.start_hour
		  , delivery_mode = EXCLUDED.delivery_mode
		  , email_server_id = EXCLUDED.email_server_id
		  , email_template_id = EXCLUDED.email_template_id
		  , ftp_server_ids = EXCLUDED.ftp_server_ids
		  , recipients = EXCLUDED.recipients
		  , parameters = EXCLUDED.parameters
		  , is_active = EXCLUDED.is_active
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.ReportID,
		string(schedule.Frequency),
		optionsJSON,
		nullTime(schedule.StartDate),
		schedule.StartHour,
		string(schedule.DeliveryMode),
		nullString(schedule.EmailServerID),
		nullString(schedule.EmailTemplateID),
		ftpServersJSON,
		recipientsJSON,
		parametersJSON,
		schedule.IsActive,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", schedule.ID, err)
	}

	return nil
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var (
		schedule        models.Schedule
		frequency       string
		deliveryMode    string
		startDate       sql.NullTime
		emailServerID   sql.NullString
		emailTemplateID sql.NullString
		optionsJSON     []byte
		ftpServersJSON  []byte
		recipientsJSON  []byte
		parametersJSON  []byte
	)

	err := row.Scan(
		&schedule.ID,
		&schedule.ReportID,
		&frequency,
		&optionsJSON,
		&startDate,
		&schedule.StartHour,
		&deliveryMode,
		&emailServerID,
		&emailTemplateID,
		&ftpServersJSON,
		&recipientsJSON,
		&parametersJSON,
		&schedule.IsActive,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	schedule.Frequency = models.Frequency(frequency)
	schedule.DeliveryMode = models.ParseDeliveryMode(deliveryMode)
	schedule.StartDate = timePtr(startDate)
	schedule.EmailServerID = emailServerID.String
	schedule.EmailTemplateID = emailTemplateID.String

	if len(optionsJSON) > 0 {
		err = json.Unmarshal(optionsJSON, &schedule.FrequencyOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal frequency options: %w", err)
		}
	}

	if len(ftpServersJSON) > 0 {
		err = json.Unmarshal(ftpServersJSON, &schedule.FTPServerIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal ftp server ids: %w", err)
		}
	}

	if len(recipientsJSON) > 0 {
		err = json.Unmarshal(recipientsJSON, &schedule.Recipients)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
		}
	}

	if len(parametersJSON) > 0 {
		err = json.Unmarshal(parametersJSON, &schedule.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}

	return &schedule, nil
}

const reportColumns = `
		id
	  , name
	  , type
	  , data_source_id
	  , sql_definition
	  , visual_definition
	  , retention_days
	  , delivery_mode
	  , timeout_seconds
	  , is_critical
	  , email_server_id
	  , email_template_id
	  , ftp_server_id
	  , default_recipients
	  , is_active
	  , created_at
	  , updated_at
`

// ReportByID returns a report by its ID.
func (r *CatalogRepository) ReportByID(ctx context.Context, id string) (*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`

	report, err := scanReport(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrReportNotFound
		}

		return nil, fmt.Errorf("failed to scan report: %w", err)
	}

	return report, nil
}

// ReportsWithRetention returns active reports with a positive retention window.
func (r *CatalogRepository) ReportsWithRetention(ctx context.Context) ([]*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE is_active = TRUE AND retention_days > 0 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}

	defer func(ctx context.Context, r *CatalogRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	reports := make([]*models.Report, 0)

	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}

		reports = append(reports, report)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	return reports, nil
}

// SaveReport upserts a report.
func (r *CatalogRepository) SaveReport(ctx context.Context, report *models.Report) error {
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

	visualJSON, err := json.Marshal(report.VisualDefinition)
	if err != nil {
		return fmt.Errorf("failed to marshal visual definition: %w", err)
	}

	recipientsJSON, err := json.Marshal(report.DefaultRecipients)
	if err != nil {
		return fmt.Errorf("failed to marshal default recipients: %w", err)
	}

	query := `
		INSERT INTO reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , type = EXCLUDED.type
		  , data_source_id = EXCLUDED.data_source_id
		  , sql_definition = EXCLUDED.sql_definition
		  , visual_definition = EXCLUDED.visual_definition
		  , retention_days = EXCLUDED.retention_days
		  , delivery_mode = EXCLUDED.delivery_mode
		  , timeout_seconds = EXCLUDED.timeout_seconds
		  , is_critical = EXCLUDED.is_critical
		  , email_server_id = EXCLUDED.email_server_id
		  , email_template_id = EXCLUDED.email_template_id
		  , ftp_server_id = EXCLUDED.ftp_server_id
		  , default_recipients = EXCLUDED.default_recipients
		  , is_active = EXCLUDED.is_active
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		report.ID,
		report.Name,
		string(report.Type),
		nullString(report.DataSourceID),
		report.SQLDefinition,
		visualJSON,
		report.RetentionDays,
		string(report.DeliveryMode),
		report.TimeoutSeconds,
		report.IsCritical,
		nullString(report.EmailServerID),
		nullString(report.EmailTemplateID),
		nullString(report.FTPServerID),
		recipientsJSON,
		report.IsActive,
		report.CreatedAt,
		report.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", report.ID, err)
	}

	return nil
}

func scanReport(row rowScanner) (*models.Report, error) {
	var (
		report          models.Report
		reportType      string
		deliveryMode    string
		dataSourceID    sql.NullString
		emailServerID   sql.NullString
		emailTemplateID sql.NullString
		ftpServerID     sql.NullString
		visualJSON      []byte
		recipientsJSON  []byte
	)

	err := row.Scan(
		&report.ID,
		&report.Name,
		&reportType,
		&dataSourceID,
		&report.SQLDefinition,
		&visualJSON,
		&report.RetentionDays,
		&deliveryMode,
		&report.TimeoutSeconds,
		&report.IsCritical,
		&emailServerID,
		&emailTemplateID,
		&ftpServerID,
		&recipientsJSON,
		&report.IsActive,
		&report.CreatedAt,
		&report.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	report.Type = models.ReportType(reportType)
	report.DeliveryMode = models.ParseDeliveryMode(deliveryMode)
	report.DataSourceID = dataSourceID.String
	report.EmailServerID = emailServerID.String
	report.EmailTemplateID = emailTemplateID.String
	report.FTPServerID = ftpServerID.String

	if len(visualJSON) > 0 {
		err = json.Unmarshal(visualJSON, &report.VisualDefinition)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal visual definition: %w", err)
		}
	}

	if len(recipientsJSON) > 0 {
		err = json.Unmarshal(recipientsJSON, &report.DefaultRecipients)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal default recipients: %w", err)
		}
	}

	return &report, nil
}

// FTPServerByID returns a remote-transfer target by its ID.
func (r *CatalogRepository) FTPServerByID(ctx context.Context, id string) (*models.FTPServer, error) {
	query := `
		SELECT
			id
		  , name
		  , host
		  , port
		  , username
		  , password
		  , root_path
		  , passive_mode
		  , status
		  , last_check_at
		FROM ftp_servers
		WHERE id = $1
	`

	var (
		server      models.FTPServer
		lastCheckAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&server.ID,
		&server.Name,
		&server.Host,
		&server.Port,
		&server.Username,
		&server.Password,
		&server.RootPath,
		&server.PassiveMode,
		&server.Status,
		&lastCheckAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFTPServerNotFound
		}

		return nil, fmt.Errorf("failed to scan ftp server: %w", err)
	}

	server.LastCheckAt = timePtr(lastCheckAt)

	return &server, nil
}

// EmailServerByID returns an SMTP transport by its ID.
func (r *CatalogRepository) EmailServerByID(ctx context.Context, id string) (*models.EmailServer, error) {
	query := `
		SELECT
			id
		  , name
		  , host
		  , port
		  , username
		  , password
		  , encryption
		  , from_address
		  , from_name
		FROM email_servers
		WHERE id = $1
	`

	var server models.EmailServer

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&server.ID,
		&server.Name,
		&server.Host,
		&server.Port,
		&server.Username,
		&server.Password,
		&server.Encryption,
		&server.FromAddress,
		&server.FromName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEmailServerNotFound
		}

		return nil, fmt.Errorf("failed to scan email server: %w", err)
	}

	return &server, nil
}

// EmailTemplateByID returns an email template by its ID.
func (r *CatalogRepository) EmailTemplateByID(ctx context.Context, id string) (*models.EmailTemplate, error) {
	query := `
		SELECT
			id
		  , name
		  , subject
		  , body_html
		  , body_text
		  , require_otp
		FROM email_templates
		WHERE id = $1
	`

	var template models.EmailTemplate

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&template.ID,
		&template.Name,
		&template.Subject,
		&template.BodyHTML,
		&template.BodyText,
		&template.RequireOTP,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEmailTemplateNotFound
		}

		return nil, fmt.Errorf("failed to scan email template: %w", err)
	}

	return &template, nil
}

// DataSourceByID returns a data source by its ID.
func (r *CatalogRepository) DataSourceByID(ctx context.Context, id string) (*models.DataSource, error) {
	query := `SELECT id, type FROM data_sources WHERE id = $1`

	var source models.DataSource

	err := r.db.QueryRowContext(ctx, query, id).Scan(&source.ID, &source.Type)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDataSourceNotFound
		}

		return nil, fmt.Errorf("failed to scan data source: %w", err)
	}

	return &source, nil
}

// UserByID returns a user by its ID.
func (r *CatalogRepository) UserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, name, email, is_admin FROM users WHERE id = $1`

	var user models.User

	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Name, &user.Email, &user.IsAdmin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrUserNotFound
		}

		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return &user, nil
}

// AdminUsers returns all administrator accounts.
func (r *CatalogRepository) AdminUsers(ctx context.Context) ([]*models.User, error) {
	query := `SELECT id, name, email, is_admin FROM users WHERE is_admin = TRUE ORDER BY email`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query admin users: %w", err)
	}

	defer func(ctx context.Context, r *CatalogRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	users := make([]*models.User, 0)

	for rows.Next() {
		var user models.User

		err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.IsAdmin)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}

		users = append(users, &user)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}
