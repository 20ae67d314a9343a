package models

import "time"

type ReportType string

const (
	ReportTypeSQL    ReportType = "sql"
	ReportTypeVisual ReportType = "visual"
)

// Report supplies the definition and delivery defaults for executions.
// Owned by the management layer; read-only here.
type Report struct {
	ID           string     `json:"id" validate:"required"`
	Name         string     `json:"name" validate:"required"`
	Type         ReportType `json:"type"`
	DataSourceID string     `json:"data_source_id,omitempty"`

	SQLDefinition    string         `json:"sql_definition,omitempty"`
	VisualDefinition map[string]any `json:"visual_definition,omitempty"`

	RetentionDays  int          `json:"retention_days"`
	DeliveryMode   DeliveryMode `json:"delivery_mode"`
	TimeoutSeconds int          `json:"timeout_seconds,omitempty"`
	IsCritical     bool         `json:"is_critical"`

	EmailServerID   string `json:"email_server_id,omitempty"`
	EmailTemplateID string `json:"email_template_id,omitempty"`
	FTPServerID     string `json:"ftp_server_id,omitempty"`

	DefaultRecipients []string `json:"default_recipients,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DataSource describes where a report's query runs. Only the dialect
// matters to this core; credentials stay with the compute engine.
type DataSource struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Dialect maps the data-source type onto the compiler dialect name.
func (d *DataSource) Dialect() string {
	switch d.Type {
	case "oracle":
		return "oracle"
	case "postgres":
		return "pgsql"
	default:
		return "mysql"
	}
}
