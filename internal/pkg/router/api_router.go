package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/kassaflow/kassaflow/app/controllers"
	"github.com/kassaflow/kassaflow/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{Max: 300}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "kassaflow api",
		})
	})

	v1 := api.Group("/v1")

	// Event ingestion. Webhooks authenticate via HMAC signature, import and
	// override are admin operations.
	events := v1.Group("/events")
	events.Post("/webhook/:provider", controllers.HandleProviderWebhook)
	events.Post("/import", middleware.AdminAPIKeyMiddleware(), controllers.HandleImportEvents)
	events.Post("/override", middleware.AdminAPIKeyMiddleware(), controllers.HandleCreateOverride)

	// Admin query and intervention surface.
	admin := v1.Group("/admin", middleware.AdminAPIKeyMiddleware())
	admin.Get("/queue/backlog", controllers.HandleAdminQueueBacklog)
	admin.Get("/queue/review", controllers.HandleAdminManualReviewList)
	admin.Post("/queue/:id/requeue", controllers.HandleAdminRequeueEvent)
	admin.Get("/providers/stats", controllers.HandleAdminProviderStats)
	admin.Get("/profiles/:id/subscriptions", controllers.HandleAdminProfileSubscriptions)
	admin.Get("/duplicates", controllers.HandleAdminDuplicateCases)
	admin.Post("/duplicates/scan", controllers.HandleAdminDuplicateScan)
	admin.Post("/duplicates/:id/merge", controllers.HandleAdminMergeProfiles)
	admin.Post("/duplicates/:id/ignore", controllers.HandleAdminIgnoreDuplicateCase)
	admin.Get("/settings", controllers.HandleAdminGetSettings)
	admin.Put("/settings", controllers.HandleAdminUpdateSettings)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
