package models

import (
	"strings"
	"time"
)

type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusProcessing ExecutionStatus = "processing"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailed     ExecutionStatus = "failed"
	ExecutionStatusPruned     ExecutionStatus = "pruned"
)

// Remote delete statuses recorded by the cleanup sweeper.
const (
	RemoteDeleteSuccess  = "success"
	RemoteDeleteNotFound = "not_found"
	RemoteDeleteFailed   = "failed"
	RemoteDeleteOrphaned = "orphaned_server"
)

// Execution is one attempt to generate and deliver a report artifact.
// It is created by the dispatcher, mutated by the compute engine's status
// callback, by the delivery orchestrator and by the download gateway, and
// finally soft-terminated by the cleanup sweeper.
type Execution struct {
	ID         string `json:"id"`
	ReportID   string `json:"report_id" validate:"required"`
	ScheduleID string `json:"schedule_id,omitempty"`

	// TriggeredBy is the user id for manual runs; empty for schedule runs.
	TriggeredBy string `json:"triggered_by,omitempty"`

	Status     ExecutionStatus `json:"status"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`

	// OutputPath is the artifact location; nil means the artifact was
	// pruned or generation never completed.
	OutputPath *string `json:"output_path,omitempty"`
	FileSize   int64   `json:"file_size,omitempty"`

	// ErrorLog is append-only; use AppendErrorLog.
	ErrorLog string `json:"error_log,omitempty"`

	Parameters         map[string]any `json:"parameters,omitempty"`
	NotificationEmails []string       `json:"notification_emails,omitempty"`

	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	Priority    string     `json:"priority,omitempty"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`

	// NextRetryAt is the persisted run-after timestamp consumed by the
	// retry sweep; nil when no retry is scheduled.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Remote delivery tracking.
	FTPServerID     string     `json:"ftp_server_id,omitempty"`
	FTPPath         string     `json:"ftp_path,omitempty"`
	UploadedAt      *time.Time `json:"uploaded_at,omitempty"`
	FTPDeletedAt    *time.Time `json:"ftp_deleted_at,omitempty"`
	FTPDeleteStatus string     `json:"ftp_delete_status,omitempty"`

	// Email delivery tracking.
	EmailSentAt        *time.Time `json:"email_sent_at,omitempty"`
	EmailStatus        string     `json:"email_status,omitempty"`
	EmailFailureReason string     `json:"email_failure_reason,omitempty"`

	// Access gating.
	OTPHash      string     `json:"otp_hash,omitempty"`
	OTPExpiresAt *time.Time `json:"otp_expires_at,omitempty"`
	OTPValidated bool       `json:"otp_validated"`
	OTPUsedAt    *time.Time `json:"otp_used_at,omitempty"`

	DownloadCount    int        `json:"download_count"`
	LastDownloadedAt *time.Time `json:"last_downloaded_at,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// DeliveryLog holds the last aggregate delivery result.
	DeliveryLog map[string]any `json:"delivery_log,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppendErrorLog adds a line to the append-only error log.
func (e *Execution) AppendErrorLog(entry string) {
	if entry == "" {
		return
	}

	if e.ErrorLog == "" {
		e.ErrorLog = entry

		return
	}

	e.ErrorLog = strings.TrimRight(e.ErrorLog, "\n") + "\n" + entry
}

// HasArtifact reports whether a generated artifact is still referenced.
func (e *Execution) HasArtifact() bool {
	return e.OutputPath != nil && *e.OutputPath != ""
}

// RetriesExhausted reports whether the retry budget is spent.
func (e *Execution) RetriesExhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// ExpiryAt computes the retention expiry for the download-based cleanup
// job: last download wins over creation time.
func (e *Execution) ExpiryAt(retentionDays int) time.Time {
	base := e.CreatedAt
	if e.LastDownloadedAt != nil {
		base = *e.LastDownloadedAt
	}

	return base.AddDate(0, 0, retentionDays)
}

// StatusUpdate is the field set a compute-engine status callback may
// apply to an execution. Pointer fields distinguish "absent" from zero.
type StatusUpdate struct {
	Status     *ExecutionStatus `json:"status,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	OutputPath *string          `json:"output_path,omitempty"`
	FileSize   *int64           `json:"file_size,omitempty"`
	ErrorLog   *string          `json:"error_log,omitempty"`
	FTPPath    *string          `json:"ftp_path,omitempty"`
	UploadedAt *time.Time       `json:"uploaded_at,omitempty"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`

	// OTP is the plaintext one-time code generated by the engine; it is
	// hashed before storage and never persisted as-is.
	OTP *string `json:"otp,omitempty"`
}
