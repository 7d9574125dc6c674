package main

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/sirupsen/logrus"

	"outreachly/config"
	"outreachly/engine"
	"outreachly/routes"
	"outreachly/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Fatalf("Failed to initialize sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: "http://localhost:3000",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	// Shared throttle gate keeps per-sender min-gap spacing consistent
	// between the scheduler and the dispatch loop.
	gate := engine.NewThrottleGate()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatchWorker := worker.NewDispatchWorker(config.DB, gate, logger)
	if err := dispatchWorker.Start(ctx); err != nil {
		logger.Fatalf("Failed to start dispatch worker: %v", err)
	}

	replyWorker := worker.NewReplyWorker(config.DB, logger)
	if err := replyWorker.Start(ctx); err != nil {
		logger.Fatalf("Failed to start reply sync worker: %v", err)
	}

	// Setup routes
	routes.SetupAPIRoutes(app, config.DB, logger)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
