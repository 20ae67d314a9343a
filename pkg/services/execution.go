package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
	"github.com/reportd/reportd/pkg/storage"
)

// previewRows caps the preview at a header line plus twenty data rows.
const previewRows = 21

// Dispatcher is the dispatch surface the service needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, execution *models.Execution) error
}

// TriggerRequest describes a manual execution request.
type TriggerRequest struct {
	ReportID           string         `json:"report_id"  validate:"required"`
	UserID             string         `json:"user_id"    validate:"required"`
	Priority           string         `json:"priority"   validate:"omitempty,oneof=low medium high"`
	NotificationEmails []string       `json:"notification_emails" validate:"omitempty,dive,email"`
	Parameters         map[string]any `json:"parameters"`
}

// Preview is the head of a CSV artifact.
type Preview struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ExecutionService exposes the execution operations behind the API.
type ExecutionService struct {
	persistence persistence.Persistence
	dispatcher  Dispatcher
	source      storage.Backend
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewExecutionService(
	logger *slog.Logger,
	persist persistence.Persistence,
	dispatcher Dispatcher,
	source storage.Backend,
) *ExecutionService {
	return &ExecutionService{
		persistence: persist,
		dispatcher:  dispatcher,
		source:      source,
		validator:   validator.New(),
		logger:      logger.With("module", "execution_service"),
	}
}

// Trigger creates and dispatches a manual execution for a report.
func (s *ExecutionService) Trigger(ctx context.Context, request *TriggerRequest) (*models.Execution, error) {
	err := s.validator.Struct(request)
	if err != nil {
		return nil, NewValidationError("Trigger", "invalid_request", err.Error(), ErrInvalidRequest)
	}

	report, err := s.persistence.ReportByID(ctx, request.ReportID)
	if err != nil {
		return nil, err
	}

	if !report.IsActive {
		return nil, &ServiceError{
			Op:      "Trigger",
			Code:    "report_inactive",
			Message: "report " + report.ID + " is not active",
			Err:     ErrReportInactive,
		}
	}

	execution := &models.Execution{
		ReportID:           report.ID,
		TriggeredBy:        request.UserID,
		Status:             models.ExecutionStatusPending,
		Priority:           request.Priority,
		Parameters:         request.Parameters,
		NotificationEmails: request.NotificationEmails,
		MaxRetries:         3,
	}

	err = s.persistence.CreateExecution(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	s.logger.InfoContext(ctx, "Manual execution triggered",
		"execution_id", execution.ID,
		"report_id", report.ID,
		"user_id", request.UserID,
	)

	err = s.dispatcher.Dispatch(ctx, execution)
	if err != nil {
		// The execution already carries the failure state; surface the
		// cause to the caller.
		return execution, err
	}

	return execution, nil
}

// Get returns an execution by ID.
func (s *ExecutionService) Get(ctx context.Context, id string) (*models.Execution, error) {
	return s.persistence.ExecutionByID(ctx, id)
}

// List returns executions matching the filter.
func (s *ExecutionService) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	if filter.Status != "" {
		switch filter.Status {
		case models.ExecutionStatusPending, models.ExecutionStatusProcessing,
			models.ExecutionStatusCompleted, models.ExecutionStatusFailed,
			models.ExecutionStatusPruned:
		default:
			return nil, NewValidationError("List", "invalid_status", "unknown status "+string(filter.Status), ErrInvalidStatus)
		}
	}

	return s.persistence.Executions(ctx, filter)
}

// PreviewArtifact returns the first rows of a completed CSV artifact.
func (s *ExecutionService) PreviewArtifact(ctx context.Context, executionID string) (*Preview, error) {
	execution, err := s.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusCompleted {
		return nil, ErrExecutionNotReady
	}

	if !execution.HasArtifact() {
		return nil, ErrArtifactMissing
	}

	if strings.ToLower(path.Ext(*execution.OutputPath)) != ".csv" {
		return nil, ErrPreviewNotCSV
	}

	reader, err := s.source.Open(ctx, *execution.OutputPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, ErrArtifactMissing
		}

		return nil, err
	}

	defer func() {
		_ = reader.Close()
	}()

	return readPreview(reader)
}

func readPreview(r io.Reader) (*Preview, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1

	preview := &Preview{Rows: make([][]string, 0, previewRows-1)}

	for i := 0; i < previewRows; i++ {
		record, err := csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return nil, fmt.Errorf("failed to read csv artifact: %w", err)
		}

		if i == 0 {
			preview.Columns = record

			continue
		}

		preview.Rows = append(preview.Rows, record)
	}

	return preview, nil
}
