package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/reportd/reportd/pkg/download"
	"github.com/reportd/reportd/pkg/lifecycle"
	"github.com/reportd/reportd/pkg/persistence"
	"github.com/reportd/reportd/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func unprocessable(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(422).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, services.ErrPreviewNotCSV):
		return unprocessable(c, "preview_unavailable", err.Error())

	case errors.Is(err, lifecycle.ErrUnknownStatus):
		return badRequest(c, err.Error())

	case errors.Is(err, lifecycle.ErrExecutionFinished):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("execution_finalized").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution not found")

	case persistence.IsReportNotFound(err):
		return notFound(c, "report not found")

	case persistence.IsScheduleNotFound(err):
		return notFound(c, "schedule not found")

	case errors.Is(err, persistence.ErrFTPServerNotFound):
		return notFound(c, "ftp server not found")

	case errors.Is(err, persistence.ErrEmailServerNotFound):
		return notFound(c, "email server not found")

	case errors.Is(err, download.ErrNoArtifact):
		return notFound(c, "artifact not available")

	default:
		return internalError(c, err)
	}
}

// handleDownloadError maps gateway errors onto the download API contract.
func handleDownloadError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, download.ErrOTPInvalid):
		return unprocessable(c, "otp_invalid", "one-time code is invalid")

	case errors.Is(err, download.ErrOTPNeedsReissue):
		return unprocessable(c, "otp_needs_reissue", "one-time code expired or already used; request a new link")

	case errors.Is(err, download.ErrOTPRequired):
		problem := problems.NewStatusProblem(403).
			WithInstance(c.Path()).
			WithType("otp_required").
			WithDetail("one-time code validation required before download")

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case errors.Is(err, download.ErrRateLimited):
		problem := problems.NewStatusProblem(429).
			WithInstance(c.Path()).
			WithType("rate_limited").
			WithDetail("too many reissue requests; retry in a minute")

		return c.Status(fiber.StatusTooManyRequests).JSON(problem)

	default:
		return handleServiceError(c, err)
	}
}
