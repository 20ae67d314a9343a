// Package web provides the HTTP handlers for the report execution API.
package web

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/reportd/reportd/pkg/delivery"
	"github.com/reportd/reportd/pkg/download"
	"github.com/reportd/reportd/pkg/lifecycle"
	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
	"github.com/reportd/reportd/pkg/services"
	"github.com/reportd/reportd/pkg/storage"
)

type APIHandlers struct {
	executionService *services.ExecutionService
	lifecycleManager *lifecycle.Manager
	gateway          *download.Gateway
	persistence      persistence.Persistence
	logger           *slog.Logger
}

func NewAPIHandlers(
	logger *slog.Logger,
	executionService *services.ExecutionService,
	lifecycleManager *lifecycle.Manager,
	gateway *download.Gateway,
	persist persistence.Persistence,
) *APIHandlers {
	return &APIHandlers{
		executionService: executionService,
		lifecycleManager: lifecycleManager,
		gateway:          gateway,
		persistence:      persist,
		logger:           logger.With("module", "web"),
	}
}

// TriggerExecution creates and dispatches a manual execution.
func (h *APIHandlers) TriggerExecution(c fiber.Ctx) error {
	var request services.TriggerRequest

	err := c.Bind().Body(&request)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	execution, err := h.executionService.Trigger(c.Context(), &request)
	if err != nil {
		// A dispatch failure still produced an execution row; return it
		// alongside the failure detail.
		if execution != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"execution": execution,
				"error":     err.Error(),
			})
		}

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

// ListExecutions returns executions filtered by query parameters.
func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	filter := persistence.ExecutionFilter{
		ReportID:   c.Query("report_id"),
		ScheduleID: c.Query("schedule_id"),
		Status:     models.ExecutionStatus(c.Query("status")),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit: "+err.Error())
		}

		filter.Limit = limit
	}

	executions, err := h.executionService.List(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

// GetExecution returns a single execution.
func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// UpdateExecution applies a compute-engine status callback.
func (h *APIHandlers) UpdateExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var update models.StatusUpdate

	err := c.Bind().Body(&update)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	execution, err := h.lifecycleManager.ApplyUpdate(c.Context(), id, &update)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// PreviewExecution returns the head of a completed CSV artifact.
func (h *APIHandlers) PreviewExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	preview, err := h.executionService.PreviewArtifact(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(preview)
}

type validateOTPRequest struct {
	OTP string `json:"otp"`
}

// ValidateOTP checks a submitted one-time code.
func (h *APIHandlers) ValidateOTP(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var request validateOTPRequest

	err := c.Bind().Body(&request)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	err = h.gateway.Validate(c.Context(), id, request.OTP)
	if err != nil {
		return handleDownloadError(c, err)
	}

	return c.JSON(fiber.Map{"status": "validated"})
}

// ReissueOTP replaces an expired or used code and re-sends the link.
func (h *APIHandlers) ReissueOTP(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	err := h.gateway.Reissue(c.Context(), id, c.IP())
	if err != nil {
		return handleDownloadError(c, err)
	}

	return c.JSON(fiber.Map{"status": "reissued"})
}

// DownloadExecution streams the artifact of a validated execution.
func (h *APIHandlers) DownloadExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	reader, info, err := h.gateway.Stream(c.Context(), id)
	if err != nil {
		return handleDownloadError(c, err)
	}

	c.Set(fiber.HeaderContentType, info.ContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+info.Name+`"`)

	return c.SendStream(reader, int(info.Size))
}

// VerifyFTPServer probes connectivity against a configured server.
func (h *APIHandlers) VerifyFTPServer(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Server ID is required")
	}

	server, err := h.persistence.FTPServerByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	err = storage.VerifyConnection(c.Context(), server)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"server": server.Name,
			"status": "unreachable",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"server": server.Name,
		"status": "ok",
	})
}

// VerifyEmailServer probes an SMTP transport configuration.
func (h *APIHandlers) VerifyEmailServer(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Server ID is required")
	}

	server, err := h.persistence.EmailServerByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	err = delivery.VerifyConnection(c.Context(), server)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"server": server.Name,
			"status": "unreachable",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"server": server.Name,
		"status": "ok",
	})
}

// HealthCheck reports persistence health.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}
