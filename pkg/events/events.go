// Package events defines event types for execution lifecycle notifications.
package events

import (
	"time"

	"github.com/reportd/reportd/pkg/models"
)

type EventType string

// Topic carries all execution lifecycle events.
const Topic = "reportd.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events, keyed by the triggering user so
	// interested consumers can fan them out per account.
	ExecutionUpdatedEvent EventType = "execution.updated"

	// User-facing notifications produced by the lifecycle state machine.
	UserNotificationEvent EventType = "user.notification"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ExecutionUpdated announces an execution state change to subscribed
// consumers. Published after the owning transaction commits, never from
// inside it.
type ExecutionUpdated struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	ReportID    string                 `json:"report_id"`
	Status      models.ExecutionStatus `json:"status"`
	TriggeredBy string                 `json:"triggered_by,omitempty"`
	ErrorLog    string                 `json:"error_log,omitempty"`
}

func (e ExecutionUpdated) GetType() EventType {
	return ExecutionUpdatedEvent
}

// Notification severities.
const (
	NotificationSuccess = "success"
	NotificationError   = "error"
)

// UserNotification is a message addressed to a single user.
type UserNotification struct {
	BaseEvent

	UserID      string `json:"user_id"`
	ReportName  string `json:"report_name"`
	ExecutionID string `json:"execution_id"`
	DownloadURL string `json:"download_url,omitempty"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
}

func (n UserNotification) GetType() EventType {
	return UserNotificationEvent
}
