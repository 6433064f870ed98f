package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/app/repository"
	"github.com/kassaflow/kassaflow/internal/pkg/cache"
	"github.com/kassaflow/kassaflow/internal/pkg/database"
	"github.com/kassaflow/kassaflow/internal/pkg/env"
	"github.com/kassaflow/kassaflow/internal/pkg/lifecycle"
	"github.com/kassaflow/kassaflow/internal/pkg/notify"
	"github.com/kassaflow/kassaflow/internal/pkg/reconciler"
	"github.com/kassaflow/kassaflow/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	if err := models.LoadSettings(db); err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	repos := repository.GetGlobalFactory().GetRepositories()
	notifier := notify.NewOutboxNotifier()
	lifecycleService := lifecycle.NewService(notifier)

	engine := reconciler.New(db, repos, lifecycleService, notifier)
	engine.Start()

	scheduler := lifecycle.NewScheduler(db, lifecycleService)
	scheduler.Start()

	app := newApplication()

	// Graceful shutdown: stop accepting requests, then drain the workers.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("Shutting down...")
		if err := app.Shutdown(); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Printf("HTTP server: %v", err)
	}

	scheduler.Stop()
	engine.Stop()
	log.Println("Shutdown complete")
}

func newApplication() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "kassaflow",
		BodyLimit: 10 * 1024 * 1024,
	})

	app.Use(recover.New(), logger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	router.InstallRouter(app)

	return app
}
