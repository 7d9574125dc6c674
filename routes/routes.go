package routes

import (
	controller "outreachly/controllers"
	"outreachly/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, log *logrus.Logger) {
	sequenceController := controller.NewSequenceController(db, log)
	enrollmentController := controller.NewEnrollmentController(db, log)
	contactController := controller.NewContactController(db, log)
	senderController := controller.NewSenderController(db, log)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence routes
	sequences := api.Group("/sequences")
	sequences.Post("/", sequenceController.CreateSequence)
	sequences.Get("/", sequenceController.ListSequences)
	sequences.Get("/:id", sequenceController.GetSequence)
	sequences.Put("/:id", sequenceController.UpdateSequence)
	sequences.Delete("/:id", sequenceController.DeleteSequence)

	// Lifecycle transitions
	sequences.Post("/:id/launch", sequenceController.LaunchSequence)
	sequences.Post("/:id/pause", sequenceController.PauseSequence)
	sequences.Post("/:id/resume", sequenceController.ResumeSequence)

	// Status rollup
	sequences.Get("/:id/stats", sequenceController.GetSequenceStats)

	// Enrollment routes; bulk enrollment is rate limited per workspace
	sequences.Post("/:id/enrollments", middleware.EnrollmentRateLimiter(), enrollmentController.EnrollContacts)
	sequences.Get("/:id/enrollments", enrollmentController.ListEnrollments)
	api.Post("/enrollments/:id/trigger", enrollmentController.TriggerEnrollment)

	// Contact routes
	contacts := api.Group("/contacts")
	contacts.Post("/", contactController.CreateContact)
	contacts.Get("/", contactController.ListContacts)
	contacts.Patch("/:id/suppression", contactController.UpdateSuppression)

	// Sender routes
	senders := api.Group("/senders")
	senders.Post("/", senderController.CreateSender)
	senders.Get("/", senderController.ListSenders)

	log.Info("API routes initialized successfully")
}
