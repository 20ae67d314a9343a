// Package main provides the report execution API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/reportd/reportd/pkg/delivery"
	"github.com/reportd/reportd/pkg/dispatch"
	"github.com/reportd/reportd/pkg/download"
	"github.com/reportd/reportd/pkg/eventbus"
	"github.com/reportd/reportd/pkg/lifecycle"
	"github.com/reportd/reportd/pkg/persistence"
	"github.com/reportd/reportd/pkg/queue"
	"github.com/reportd/reportd/pkg/services"
	"github.com/reportd/reportd/pkg/storage"
	"github.com/reportd/reportd/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	queue       *queue.Queue
	source      storage.Backend
	baseURL     string
}

func NewAPI(
	logger *slog.Logger,
	persist persistence.Persistence,
	eventBus eventbus.EventBus,
	jobQueue *queue.Queue,
	source storage.Backend,
	baseURL string,
) *API {
	return &API{
		logger:      logger,
		persistence: persist,
		eventBus:    eventBus,
		queue:       jobQueue,
		source:      source,
		baseURL:     baseURL,
	}
}

func (a *API) App() *fiber.App {
	dispatcher := dispatch.NewDispatcher(a.logger, a.persistence, a.queue)
	orchestrator := delivery.NewOrchestrator(a.logger, a.persistence, a.source, delivery.NewSMTPSender(), a.baseURL)
	lifecycleManager := lifecycle.NewManager(a.logger, a.persistence, orchestrator, a.eventBus, a.baseURL)
	gateway := download.NewGateway(a.logger, a.persistence, a.source, orchestrator)
	executionService := services.NewExecutionService(a.logger, a.persistence, dispatcher, a.source)

	handlers := web.NewAPIHandlers(a.logger, executionService, lifecycleManager, gateway, a.persistence)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Reportd API")
	})

	e := app.Group("/executions")
	e.Post("/", handlers.TriggerExecution)
	e.Get("/", handlers.ListExecutions)
	e.Get("/:id", handlers.GetExecution)
	e.Patch("/:id", handlers.UpdateExecution)
	e.Get("/:id/preview", handlers.PreviewExecution)

	d := app.Group("/dl")
	d.Get("/:id", handlers.DownloadExecution)
	d.Post("/:id/validate", handlers.ValidateOTP)
	d.Post("/:id/reissue", handlers.ReissueOTP)

	app.Post("/ftp-servers/:id/verify", handlers.VerifyFTPServer)
	app.Post("/email-servers/:id/verify", handlers.VerifyEmailServer)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
