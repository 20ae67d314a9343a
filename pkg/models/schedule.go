// Package models defines the report-lifecycle domain entities.
package models

import (
	"time"
)

// Schedule is a recurring trigger definition. It is owned by the
// management layer and read-only to this core.
type Schedule struct {
	ID       string `json:"id" validate:"required"`
	ReportID string `json:"report_id" validate:"required"`

	Frequency        Frequency        `json:"frequency" validate:"required"`
	FrequencyOptions FrequencyOptions `json:"frequency_options"`

	// StartDate and StartHour constrain the earliest firing. StartHour
	// uses "15:04:05" clock format; empty means no constraint.
	StartDate *time.Time `json:"start_date,omitempty"`
	StartHour string     `json:"start_hour,omitempty"`

	DeliveryMode    DeliveryMode `json:"delivery_mode"`
	EmailServerID   string       `json:"email_server_id,omitempty"`
	EmailTemplateID string       `json:"email_template_id,omitempty"`

	// FTPServerIDs are the linked remote-transfer targets (many-to-many).
	FTPServerIDs []string `json:"ftp_server_ids,omitempty"`

	// Recipients overrides the report's default recipient list.
	Recipients []string       `json:"recipients,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StartedBy reports whether the schedule's start constraints allow
// firing at the given instant.
func (s *Schedule) StartedBy(now time.Time) bool {
	if s.StartDate != nil {
		nowDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		startDate := time.Date(s.StartDate.Year(), s.StartDate.Month(), s.StartDate.Day(), 0, 0, 0, 0, now.Location())

		if nowDate.Before(startDate) {
			return false
		}
	}

	if s.StartHour != "" && now.Format("15:04:05") < s.StartHour {
		return false
	}

	return true
}
