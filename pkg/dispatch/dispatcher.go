// Package dispatch prepares execution jobs and hands them to the
// compute engine queue.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
	"github.com/reportd/reportd/pkg/queue"
)

// Pusher is the queue surface the dispatcher needs.
type Pusher interface {
	Push(ctx context.Context, envelope *queue.Envelope) error
}

// Dispatcher builds job envelopes from executions and pushes them.
type Dispatcher struct {
	persistence persistence.Persistence
	pusher      Pusher
	compiler    Compiler
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher using the built-in visual compiler.
func NewDispatcher(logger *slog.Logger, persist persistence.Persistence, pusher Pusher) *Dispatcher {
	return &Dispatcher{
		persistence: persist,
		pusher:      pusher,
		compiler:    NewVisualCompiler(),
		logger:      logger.With("module", "dispatch"),
	}
}

// WithCompiler overrides the visual-definition compiler.
func (d *Dispatcher) WithCompiler(compiler Compiler) *Dispatcher {
	d.compiler = compiler

	return d
}

// Dispatch resolves the execution's SQL, builds the job envelope and
// pushes it to the engine. On push success the execution moves to
// processing with its attempt counter bumped; on any failure it moves
// to failed with the cause recorded. Either way the execution is
// persisted before returning.
func (d *Dispatcher) Dispatch(ctx context.Context, execution *models.Execution) error {
	report, err := d.persistence.ReportByID(ctx, execution.ReportID)
	if err != nil {
		return fmt.Errorf("failed to load report %s: %w", execution.ReportID, err)
	}

	sqlDefinition, bindings, err := d.resolveSQL(ctx, execution, report)
	if err != nil {
		d.markFailed(ctx, execution, "[Dispatch] "+err.Error())

		return fmt.Errorf("failed to resolve report definition: %w", err)
	}

	envelope := d.buildEnvelope(execution, report, sqlDefinition, bindings)

	err = d.pusher.Push(ctx, envelope)
	if err != nil {
		d.markFailed(ctx, execution, "[Dispatch] queue push failed: "+err.Error())

		return fmt.Errorf("failed to push job for execution %s: %w", execution.ID, err)
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusProcessing
	execution.StartedAt = &now
	execution.RetryCount++
	execution.NextRetryAt = nil

	err = d.persistence.UpdateExecution(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to persist dispatched execution %s: %w", execution.ID, err)
	}

	d.logger.InfoContext(ctx, "Dispatched execution",
		"execution_id", execution.ID,
		"report_id", report.ID,
		"priority", envelope.Priority,
		"attempt", execution.RetryCount,
	)

	return nil
}

// resolveSQL returns the query text and its positional bindings. Native
// SQL reports bind the execution parameters directly; visual reports
// bind only what the compiler emits, since the RLS parameter is already
// folded into the compiled restriction.
func (d *Dispatcher) resolveSQL(
	ctx context.Context,
	execution *models.Execution,
	report *models.Report,
) (string, []any, error) {
	if report.Type != models.ReportTypeVisual {
		return report.SQLDefinition, parameterValues(execution.Parameters), nil
	}

	dialect := "mysql"

	if report.DataSourceID != "" {
		source, err := d.persistence.DataSourceByID(ctx, report.DataSourceID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load data source: %w", err)
		}

		dialect = source.Dialect()
	}

	restriction, _ := execution.Parameters["rls_department_id"].(string)

	sqlDefinition, bindings, err := d.compiler.Compile(report.VisualDefinition, dialect, restriction)
	if err != nil {
		return "", nil, err
	}

	return sqlDefinition, bindings, nil
}

func (d *Dispatcher) buildEnvelope(
	execution *models.Execution,
	report *models.Report,
	sqlDefinition string,
	bindings []any,
) *queue.Envelope {
	priority := execution.Priority
	if priority == "" {
		priority = queue.PriorityMedium
		if report.IsCritical {
			priority = queue.PriorityHigh
		}
	}

	timeout := report.TimeoutSeconds
	if timeout <= 0 {
		timeout = queue.DefaultTimeoutSeconds
	}

	maxAttempts := execution.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = queue.DefaultMaxAttempts
	}

	jobID := execution.ID

	if id, err := uuid.NewV7(); err == nil {
		jobID = id.String()
	}

	return &queue.Envelope{
		JobID:              jobID,
		ExecutionID:        execution.ID,
		ReportID:           report.ID,
		TaskType:           queue.TaskTypeExecute,
		Priority:           priority,
		TimeoutSeconds:     timeout,
		RetryPolicy: queue.RetryPolicy{
			MaxAttempts:     maxAttempts,
			BackoffStrategy: queue.DefaultBackoffStrategy,
			MaxBackoffHours: queue.DefaultMaxBackoffHours,
		},
		NotificationEmails: execution.NotificationEmails,
		SQLDefinition:      sqlDefinition,
		Bindings:           bindings,
	}
}

// parameterValues flattens execution parameters into a positional
// binding list, ordered by key so repeated dispatches of the same
// execution produce the same envelope.
func parameterValues(parameters map[string]any) []any {
	if len(parameters) == 0 {
		return nil
	}

	keys := make([]string, 0, len(parameters))
	for key := range parameters {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	values := make([]any, 0, len(keys))
	for _, key := range keys {
		values = append(values, parameters[key])
	}

	return values
}

func (d *Dispatcher) markFailed(ctx context.Context, execution *models.Execution, cause string) {
	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.FinishedAt = &now
	execution.AppendErrorLog(cause)

	err := d.persistence.UpdateExecution(ctx, execution)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to persist failed execution",
			"execution_id", execution.ID,
			"error", err,
		)
	}
}
