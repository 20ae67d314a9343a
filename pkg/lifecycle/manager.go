// Package lifecycle applies compute-engine status callbacks to
// executions: state transitions, retry scheduling with exponential
// backoff, delivery fan-out on completion and user notifications.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reportd/reportd/pkg/delivery"
	"github.com/reportd/reportd/pkg/download"
	"github.com/reportd/reportd/pkg/eventbus"
	"github.com/reportd/reportd/pkg/events"
	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
)

var (
	ErrUnknownStatus     = errors.New("unknown execution status")
	ErrExecutionFinished = errors.New("execution is already finalized")
)

const retryBaseDelay = 60 * time.Second

// DeliveryRunner is the delivery surface the manager needs.
type DeliveryRunner interface {
	ExecuteDelivery(ctx context.Context, execution *models.Execution) (*delivery.Result, error)
	DeliverViaEmail(ctx context.Context, execution *models.Execution, report *models.Report) error
}

// Manager owns the execution state machine. All mutations run inside a
// transaction; notification events are collected during the transaction
// and published only after it commits.
type Manager struct {
	persistence persistence.Persistence
	delivery    DeliveryRunner
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	baseURL     string
}

func NewManager(
	logger *slog.Logger,
	persist persistence.Persistence,
	deliveryRunner DeliveryRunner,
	publisher eventbus.EventPublisher,
	baseURL string,
) *Manager {
	return &Manager{
		persistence: persist,
		delivery:    deliveryRunner,
		publisher:   publisher,
		logger:      logger.With("module", "lifecycle"),
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// ApplyUpdate applies a status callback to an execution and returns the
// updated state.
func (m *Manager) ApplyUpdate(ctx context.Context, executionID string, update *models.StatusUpdate) (*models.Execution, error) {
	if update.Status != nil {
		switch *update.Status {
		case models.ExecutionStatusProcessing, models.ExecutionStatusCompleted, models.ExecutionStatusFailed:
		case models.ExecutionStatusPending, models.ExecutionStatusPruned:
			return nil, fmt.Errorf("%w: callbacks may not set %s", ErrUnknownStatus, *update.Status)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownStatus, *update.Status)
		}
	}

	var (
		execution *models.Execution
		pending   []pendingEvent
	)

	err := m.persistence.WithTx(ctx, func(tx persistence.Persistence) error {
		var err error

		execution, err = tx.ExecutionByID(ctx, executionID)
		if err != nil {
			return err
		}

		if execution.Status == models.ExecutionStatusPruned || execution.DeletedAt != nil {
			return ErrExecutionFinished
		}

		applyFields(execution, update)

		err = applyOTP(execution, update)
		if err != nil {
			return err
		}

		if update.Status != nil {
			switch *update.Status {
			case models.ExecutionStatusProcessing:
				execution.Status = models.ExecutionStatusProcessing
			case models.ExecutionStatusCompleted:
				pending, err = m.complete(ctx, execution)
				if err != nil {
					return err
				}
			case models.ExecutionStatusFailed:
				pending, err = m.fail(ctx, tx, execution)
				if err != nil {
					return err
				}
			case models.ExecutionStatusPending, models.ExecutionStatusPruned:
			}
		}

		return tx.UpdateExecution(ctx, execution)
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, execution, pending)

	return execution, nil
}

type pendingEvent struct {
	key   string
	event eventbus.Event
}

func applyFields(execution *models.Execution, update *models.StatusUpdate) {
	if update.StartedAt != nil {
		execution.StartedAt = update.StartedAt
	}

	if update.FinishedAt != nil {
		execution.FinishedAt = update.FinishedAt
	}

	if update.OutputPath != nil {
		execution.OutputPath = update.OutputPath
	}

	if update.FileSize != nil {
		execution.FileSize = *update.FileSize
	}

	if update.ErrorLog != nil {
		execution.AppendErrorLog(*update.ErrorLog)
	}

	if update.FTPPath != nil {
		execution.FTPPath = *update.FTPPath
	}

	if update.UploadedAt != nil {
		execution.UploadedAt = update.UploadedAt
	}

	if update.ExpiresAt != nil {
		execution.ExpiresAt = update.ExpiresAt
	}
}

// applyOTP hashes a callback-issued one-time code. The plaintext is
// never stored; issuing a code resets validation state.
func applyOTP(execution *models.Execution, update *models.StatusUpdate) error {
	if update.OTP == nil || *update.OTP == "" {
		return nil
	}

	hash, err := download.HashOTP(*update.OTP)
	if err != nil {
		return err
	}

	expiry := time.Now().UTC().Add(24 * time.Hour)
	execution.OTPHash = hash
	execution.OTPExpiresAt = &expiry
	execution.OTPValidated = false
	execution.OTPUsedAt = nil

	return nil
}

// complete finalizes a successful execution: delivery fan-out when an
// artifact was produced, delivery log capture, a success notification
// for the triggering user, and admin escalation for critical reports.
func (m *Manager) complete(ctx context.Context, execution *models.Execution) ([]pendingEvent, error) {
	execution.Status = models.ExecutionStatusCompleted

	if execution.FinishedAt == nil {
		now := time.Now().UTC()
		execution.FinishedAt = &now
	}

	if execution.HasArtifact() {
		if execution.ScheduleID != "" {
			result, err := m.delivery.ExecuteDelivery(ctx, execution)
			if err != nil {
				execution.AppendErrorLog("[Delivery Errors] " + err.Error())
			} else {
				execution.DeliveryLog = result.Log()

				if len(result.Errors) > 0 {
					execution.AppendErrorLog("[Delivery Errors] " + strings.Join(result.Errors, "; "))
				}
			}
		} else if execution.TriggeredBy != "" {
			report, err := m.persistence.ReportByID(ctx, execution.ReportID)
			if err != nil {
				execution.AppendErrorLog("[Delivery Errors] " + err.Error())
			} else if err := m.delivery.DeliverViaEmail(ctx, execution, report); err != nil {
				execution.AppendErrorLog("[Delivery Errors] " + err.Error())
			}
		}
	}

	message := "Your report is ready for download."
	pending := m.notifyOutcome(ctx, execution, events.NotificationSuccess, message)

	report, err := m.persistence.ReportByID(ctx, execution.ReportID)
	if err == nil && report.IsCritical {
		pending = append(pending, m.escalate(ctx, execution, report, events.NotificationSuccess, "[CRITICAL] "+message)...)
	}

	return pending, nil
}

// fail either schedules a retry or finalizes the failure. Retries keep
// the execution pending with a persisted next_retry_at for the sweep;
// notifications are suppressed until the budget is spent.
func (m *Manager) fail(ctx context.Context, tx persistence.Persistence, execution *models.Execution) ([]pendingEvent, error) {
	now := time.Now().UTC()

	if !execution.RetriesExhausted() {
		delay := retryBaseDelay << execution.RetryCount
		nextRetry := now.Add(delay)

		execution.Status = models.ExecutionStatusPending
		execution.NextRetryAt = &nextRetry
		execution.LastRetryAt = &now
		execution.AppendErrorLog(fmt.Sprintf(
			"[System] Scheduled retry %d in %d seconds.",
			execution.RetryCount+1,
			int(delay.Seconds()),
		))

		m.logger.InfoContext(ctx, "Scheduled execution retry",
			"execution_id", execution.ID,
			"attempt", execution.RetryCount+1,
			"delay_seconds", int(delay.Seconds()),
		)

		return nil, nil
	}

	execution.Status = models.ExecutionStatusFailed
	execution.FinishedAt = &now

	pending := m.notifyOutcome(ctx, execution, events.NotificationError, "Report generation failed.")

	report, err := tx.ReportByID(ctx, execution.ReportID)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to load report for escalation",
			"execution_id", execution.ID,
			"error", err,
		)

		return pending, nil
	}

	if report.IsCritical {
		pending = append(pending, m.escalate(ctx, execution, report, events.NotificationError, "[CRITICAL] Report generation failed.")...)
	}

	return pending, nil
}

// notifyOutcome builds the triggering user's notification, if any.
func (m *Manager) notifyOutcome(ctx context.Context, execution *models.Execution, severity, message string) []pendingEvent {
	if execution.TriggeredBy == "" {
		return nil
	}

	reportName := execution.ReportID

	report, err := m.persistence.ReportByID(ctx, execution.ReportID)
	if err == nil {
		reportName = report.Name
	}

	notification := events.UserNotification{
		BaseEvent: events.BaseEvent{
			Type:      events.UserNotificationEvent,
			Timestamp: time.Now().UTC(),
		},
		UserID:      execution.TriggeredBy,
		ReportName:  reportName,
		ExecutionID: execution.ID,
		Severity:    severity,
		Message:     message,
	}

	if severity == events.NotificationSuccess {
		notification.DownloadURL = m.baseURL + "/dl/" + execution.ID
	}

	return []pendingEvent{{key: execution.TriggeredBy, event: notification}}
}

// escalate notifies every administrator about a critical report's
// outcome, success or failure.
func (m *Manager) escalate(ctx context.Context, execution *models.Execution, report *models.Report, severity, message string) []pendingEvent {
	admins, err := m.persistence.AdminUsers(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to load admin users for escalation",
			"execution_id", execution.ID,
			"error", err,
		)

		return nil
	}

	pending := make([]pendingEvent, 0, len(admins))

	for _, admin := range admins {
		if admin.ID == execution.TriggeredBy {
			continue
		}

		notification := events.UserNotification{
			BaseEvent: events.BaseEvent{
				Type:      events.UserNotificationEvent,
				Timestamp: time.Now().UTC(),
			},
			UserID:      admin.ID,
			ReportName:  report.Name,
			ExecutionID: execution.ID,
			Severity:    severity,
			Message:     message,
		}

		if severity == events.NotificationSuccess {
			notification.DownloadURL = m.baseURL + "/dl/" + execution.ID
		}

		pending = append(pending, pendingEvent{key: admin.ID, event: notification})
	}

	return pending
}

// publish emits the state-change event plus any collected notifications,
// strictly after the transaction committed.
func (m *Manager) publish(ctx context.Context, execution *models.Execution, pending []pendingEvent) {
	if m.publisher == nil {
		return
	}

	updated := events.ExecutionUpdated{
		BaseEvent: events.BaseEvent{
			Type:      events.ExecutionUpdatedEvent,
			Timestamp: time.Now().UTC(),
		},
		ExecutionID: execution.ID,
		ReportID:    execution.ReportID,
		Status:      execution.Status,
		TriggeredBy: execution.TriggeredBy,
		ErrorLog:    execution.ErrorLog,
	}

	err := m.publisher.Publish(ctx, execution.TriggeredBy, updated)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to publish execution update",
			"execution_id", execution.ID,
			"error", err,
		)
	}

	for _, item := range pending {
		err := m.publisher.Publish(ctx, item.key, item.event)
		if err != nil {
			m.logger.WarnContext(ctx, "Failed to publish notification",
				"execution_id", execution.ID,
				"user_id", item.key,
				"error", err,
			)
		}
	}
}
