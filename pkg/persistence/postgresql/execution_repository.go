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

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     querier
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db querier, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
		id
	  , report_id
	  , schedule_id
	  , triggered_by
	  , status
	  , started_at
	  , finished_at
	  , output_path
	  , file_size
	  , error_log
	  , parameters
	  , notification_emails
	  , retry_count
	  , max_retries
	  , priority
	  , last_retry_at
	  , next_retry_at
	  , ftp_server_id
	  , ftp_path
	  , uploaded_at
	  , ftp_deleted_at
	  , ftp_delete_status
	  , email_sent_at
	  , email_status
	  , email_failure_reason
	  , otp_hash
	  , otp_expires_at
	  , otp_validated
	  , otp_used_at
	  , download_count
	  , last_downloaded_at
	  , expires_at
	  , deleted_at
	  , delivery_log
	  , created_at
	  , updated_at
`

// Create inserts a new execution, generating its identifier when empty.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
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

	parametersJSON, notificationsJSON, deliveryLogJSON, err := marshalExecutionJSON(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36)
	`

	_, err = r.db.ExecContext(ctx, query, executionArgs(execution, parametersJSON, notificationsJSON, deliveryLogJSON)...)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Update persists all mutable execution fields.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	execution.UpdatedAt = time.Now().UTC()

	parametersJSON, notificationsJSON, deliveryLogJSON, err := marshalExecutionJSON(execution)
	if err != nil {
		return err
	}

	query := `
		UPDATE executions SET
			report_id = $2
		  , schedule_id = $3
		  , triggered_by = $4
		  , status = $5
		  , started_at = $6
		  , finished_at = $7
		  , output_path = $8
		  , file_size = $9
		  , error_log = $10
		  , parameters = $11
		  , notification_emails = $12
		  , retry_count = $13
		  , max_retries = $14
		  , priority = $15
		  , last_retry_at = $16
		  , next_retry_at = $17
		  , ftp_server_id = $18
		  , ftp_path = $19
		  , uploaded_at = $20
		  , ftp_deleted_at = $21
		  , ftp_delete_status = $22
		  , email_sent_at = $23
		  , email_status = $24
		  , email_failure_reason = $25
		  , otp_hash = $26
		  , otp_expires_at = $27
		  , otp_validated = $28
		  , otp_used_at = $29
		  , download_count = $30
		  , last_downloaded_at = $31
		  , expires_at = $32
		  , deleted_at = $33
		  , delivery_log = $34
		  , created_at = $35
		  , updated_at = $36
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, executionArgs(execution, parametersJSON, notificationsJSON, deliveryLogJSON)...)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// GetByID returns an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// List returns executions matching the filter, newest first.
func (r *ExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	args := make([]any, 0, 4)

	if filter.ReportID != "" {
		args = append(args, filter.ReportID)
		query += fmt.Sprintf(" AND report_id = $%d", len(args))
	}

	if filter.ScheduleID != "" {
		args = append(args, filter.ScheduleID)
		query += fmt.Sprintf(" AND schedule_id = $%d", len(args))
	}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.queryExecutions(ctx, query, args...)
}

// LatestForSchedule returns the most recently created execution for a schedule.
func (r *ExecutionRepository) LatestForSchedule(ctx context.Context, scheduleID string) (*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE schedule_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, scheduleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to query latest execution for schedule %s: %w", scheduleID, err)
	}

	return execution, nil
}

// HasSince reports whether a schedule produced an execution at or after
// the given instant.
func (r *ExecutionRepository) HasSince(ctx context.Context, scheduleID string, since time.Time) (bool, error) {
	var exists bool

	query := `SELECT EXISTS (SELECT 1 FROM executions WHERE schedule_id = $1 AND created_at >= $2)`

	err := r.db.QueryRowContext(ctx, query, scheduleID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recent executions for schedule %s: %w", scheduleID, err)
	}

	return exists, nil
}

// DueRetries returns pending executions whose retry timestamp has passed.
func (r *ExecutionRepository) DueRetries(ctx context.Context, now time.Time) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		ORDER BY next_retry_at
	`

	return r.queryExecutions(ctx, query, string(models.ExecutionStatusPending), now)
}

// OlderThan returns a report's executions created before the cutoff that
// still reference an artifact.
func (r *ExecutionRepository) OlderThan(ctx context.Context, reportID string, cutoff time.Time) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE report_id = $1 AND created_at < $2 AND output_path IS NOT NULL AND output_path != ''
		ORDER BY created_at
	`

	return r.queryExecutions(ctx, query, reportID, cutoff)
}

// ExpiredRemoteArtifacts returns unswept executions past their expiry
// that still reference an artifact.
func (r *ExecutionRepository) ExpiredRemoteArtifacts(ctx context.Context, now time.Time) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE expires_at IS NOT NULL AND expires_at < $1
			AND deleted_at IS NULL
			AND output_path IS NOT NULL AND output_path != ''
		ORDER BY expires_at
	`

	return r.queryExecutions(ctx, query, now)
}

// CompletedWithArtifacts returns completed executions still holding an artifact.
func (r *ExecutionRepository) CompletedWithArtifacts(ctx context.Context) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE status = $1 AND output_path IS NOT NULL AND output_path != ''
		ORDER BY created_at
	`

	return r.queryExecutions(ctx, query, string(models.ExecutionStatusCompleted))
}

// ConsumeOTP marks a validated, unused code as used in one conditional
// update; a zero row count means another request got there first.
func (r *ExecutionRepository) ConsumeOTP(ctx context.Context, executionID string, usedAt time.Time) error {
	query := `
		UPDATE executions
		SET otp_used_at = $2, otp_validated = FALSE, updated_at = $3
		WHERE id = $1 AND otp_validated = TRUE AND otp_used_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, executionID, usedAt, time.Now().UTC())
	if err != nil {
		return persistence.NewExecutionError("ConsumeOTP", executionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("ConsumeOTP", executionID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("ConsumeOTP", executionID, persistence.ErrOTPConsumed)
	}

	return nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func(ctx context.Context, r *ExecutionRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution         models.Execution
		scheduleID        sql.NullString
		outputPath        sql.NullString
		startedAt         sql.NullTime
		finishedAt        sql.NullTime
		lastRetryAt       sql.NullTime
		nextRetryAt       sql.NullTime
		uploadedAt        sql.NullTime
		ftpDeletedAt      sql.NullTime
		emailSentAt       sql.NullTime
		otpExpiresAt      sql.NullTime
		otpUsedAt         sql.NullTime
		lastDownloadedAt  sql.NullTime
		expiresAt         sql.NullTime
		deletedAt         sql.NullTime
		parametersJSON    []byte
		notificationsJSON []byte
		deliveryLogJSON   []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.ReportID,
		&scheduleID,
		&execution.TriggeredBy,
		&execution.Status,
		&startedAt,
		&finishedAt,
		&outputPath,
		&execution.FileSize,
		&execution.ErrorLog,
		&parametersJSON,
		&notificationsJSON,
		&execution.RetryCount,
		&execution.MaxRetries,
		&execution.Priority,
		&lastRetryAt,
		&nextRetryAt,
		&execution.FTPServerID,
		&execution.FTPPath,
		&uploadedAt,
		&ftpDeletedAt,
		&execution.FTPDeleteStatus,
		&emailSentAt,
		&execution.EmailStatus,
		&execution.EmailFailureReason,
		&execution.OTPHash,
		&otpExpiresAt,
		&execution.OTPValidated,
		&otpUsedAt,
		&execution.DownloadCount,
		&lastDownloadedAt,
		&expiresAt,
		&deletedAt,
		&deliveryLogJSON,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.ScheduleID = scheduleID.String

	if outputPath.Valid {
		execution.OutputPath = &outputPath.String
	}

	execution.StartedAt = timePtr(startedAt)
	execution.FinishedAt = timePtr(finishedAt)
	execution.LastRetryAt = timePtr(lastRetryAt)
	execution.NextRetryAt = timePtr(nextRetryAt)
	execution.UploadedAt = timePtr(uploadedAt)
	execution.FTPDeletedAt = timePtr(ftpDeletedAt)
	execution.EmailSentAt = timePtr(emailSentAt)
	execution.OTPExpiresAt = timePtr(otpExpiresAt)
	execution.OTPUsedAt = timePtr(otpUsedAt)
	execution.LastDownloadedAt = timePtr(lastDownloadedAt)
	execution.ExpiresAt = timePtr(expiresAt)
	execution.DeletedAt = timePtr(deletedAt)

	if len(parametersJSON) > 0 {
		err = json.Unmarshal(parametersJSON, &execution.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}

	if len(notificationsJSON) > 0 {
		err = json.Unmarshal(notificationsJSON, &execution.NotificationEmails)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification emails: %w", err)
		}
	}

	if len(deliveryLogJSON) > 0 {
		err = json.Unmarshal(deliveryLogJSON, &execution.DeliveryLog)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal delivery log: %w", err)
		}
	}

	return &execution, nil
}

func marshalExecutionJSON(execution *models.Execution) (parameters, notifications, deliveryLog []byte, err error) {
	parameters, err = json.Marshal(execution.Parameters)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}

	notifications, err = json.Marshal(execution.NotificationEmails)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal notification emails: %w", err)
	}

	deliveryLog, err = json.Marshal(execution.DeliveryLog)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal delivery log: %w", err)
	}

	return parameters, notifications, deliveryLog, nil
}

func executionArgs(execution *models.Execution, parametersJSON, notificationsJSON, deliveryLogJSON []byte) []any {
	return []any{
		execution.ID,
		execution.ReportID,
		nullString(execution.ScheduleID),
		execution.TriggeredBy,
		string(execution.Status),
		nullTime(execution.StartedAt),
		nullTime(execution.FinishedAt),
		nullStringPtr(execution.OutputPath),
		execution.FileSize,
		execution.ErrorLog,
		parametersJSON,
		notificationsJSON,
		execution.RetryCount,
		execution.MaxRetries,
		execution.Priority,
		nullTime(execution.LastRetryAt),
		nullTime(execution.NextRetryAt),
		execution.FTPServerID,
		execution.FTPPath,
		nullTime(execution.UploadedAt),
		nullTime(execution.FTPDeletedAt),
		execution.FTPDeleteStatus,
		nullTime(execution.EmailSentAt),
		execution.EmailStatus,
		execution.EmailFailureReason,
		execution.OTPHash,
		nullTime(execution.OTPExpiresAt),
		execution.OTPValidated,
		nullTime(execution.OTPUsedAt),
		execution.DownloadCount,
		nullTime(execution.LastDownloadedAt),
		nullTime(execution.ExpiresAt),
		nullTime(execution.DeletedAt),
		deliveryLogJSON,
		execution.CreatedAt,
		execution.UpdatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time

	return &value
}
