package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Envelope is the job document pushed to the compute engine. Its shape
// is a contract with the engine; Validate enforces it before every push.
type Envelope struct {
	JobID              string      `json:"job_id"`
	ExecutionID        string      `json:"execution_id"`
	ReportID           string      `json:"report_id"`
	TaskType           string      `json:"task_type"`
	Priority           string      `json:"priority"`
	TimeoutSeconds     int         `json:"timeout_seconds"`
	RetryPolicy        RetryPolicy `json:"retry_policy"`
	NotificationEmails []string    `json:"notification_emails"`
	SQLDefinition      string      `json:"sql_definition"`
	Bindings           []any       `json:"bindings,omitempty"`
}

// RetryPolicy tells the engine how to back off between its own attempts.
type RetryPolicy struct {
	MaxAttempts     int    `json:"max_attempts"`
	BackoffStrategy string `json:"backoff_strategy"`
	MaxBackoffHours int    `json:"max_backoff_hours"`
}

// TaskTypeExecute is the only task type currently emitted.
const TaskTypeExecute = "execute"

// Priorities accepted by the engine.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Defaults applied when the report does not specify its own values.
const (
	DefaultTimeoutSeconds  = 3600
	DefaultMaxAttempts     = 3
	DefaultBackoffStrategy = "exponential"
	DefaultMaxBackoffHours = 24
)

var ErrInvalidEnvelope = errors.New("invalid job envelope")

const envelopeSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["job_id", "execution_id", "report_id", "task_type", "priority", "timeout_seconds", "retry_policy", "sql_definition"],
	"properties": {
		"job_id": {"type": "string", "minLength": 1},
		"execution_id": {"type": "string", "minLength": 1},
		"report_id": {"type": "string", "minLength": 1},
		"task_type": {"type": "string", "enum": ["execute"]},
		"priority": {"type": "string", "enum": ["low", "medium", "high"]},
		"timeout_seconds": {"type": "integer", "minimum": 1},
		"retry_policy": {
			"type": "object",
			"required": ["max_attempts", "backoff_strategy", "max_backoff_hours"],
			"properties": {
				"max_attempts": {"type": "integer", "minimum": 1},
				"backoff_strategy": {"type": "string", "enum": ["exponential", "linear"]},
				"max_backoff_hours": {"type": "integer", "minimum": 1}
			}
		},
		"notification_emails": {
			"type": "array",
			"items": {"type": "string"}
		},
		"sql_definition": {"type": "string", "minLength": 1},
		"bindings": {"type": "array"}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(envelopeSchema)

// Validate checks the envelope against the engine contract schema.
func (e *Envelope) Validate() error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(e))
	if err != nil {
		return fmt.Errorf("failed to validate envelope: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		details = append(details, resultError.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidEnvelope, strings.Join(details, "; "))
}
