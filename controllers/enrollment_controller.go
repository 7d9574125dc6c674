package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/models"
	"outreachly/utils"
)

type EnrollmentController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewEnrollmentController(db *gorm.DB, logger *logrus.Logger) *EnrollmentController {
	return &EnrollmentController{
		DB:     db,
		Logger: logger,
	}
}

// EnrollContacts adds contacts to a sequence in bulk. Suppressed contacts
// (bounced, unsubscribed, do-not-contact) are reported per contact rather
// than failing the whole request, and re-enrolling an existing pair is a
// no-op thanks to the unique (sequence, contact) index.
func (ec *EnrollmentController) EnrollContacts(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := ec.DB.Where("id = ? AND workspace_id = ?", sequenceID, workspace.ID).
		First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var input struct {
		ContactIDs []uint `json:"contact_ids" validate:"required,min=1,max=1000"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Validation failed",
			"details": err.Error(),
		})
	}

	type enrollResult struct {
		ContactID uint   `json:"contact_id"`
		Outcome   string `json:"outcome"` // enrolled, already_enrolled, suppressed, not_found
		Reason    string `json:"reason,omitempty"`
	}

	results := make([]enrollResult, 0, len(input.ContactIDs))
	enrolled := 0

	for _, contactID := range input.ContactIDs {
		var contact models.Contact
		if err := ec.DB.Where("id = ? AND workspace_id = ?", contactID, workspace.ID).
			First(&contact).Error; err != nil {
			results = append(results, enrollResult{ContactID: contactID, Outcome: "not_found"})
			continue
		}

		if reason := suppressionReason(&contact); reason != "" {
			results = append(results, enrollResult{
				ContactID: contactID,
				Outcome:   "suppressed",
				Reason:    reason,
			})
			continue
		}

		enrollment := models.SequenceEnrollment{
			SequenceID: sequence.ID,
			ContactID:  contact.ID,
			Status:     models.DeliveryStatusPending,
			Timezone:   contact.Timezone,
		}
		res := ec.DB.Where("sequence_id = ? AND contact_id = ?", sequence.ID, contact.ID).
			FirstOrCreate(&enrollment)
		if res.Error != nil {
			utils.LogError("enrollment_create_failed", res.Error, map[string]interface{}{
				"sequence_id": sequence.ID,
				"contact_id":  contact.ID,
			})
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to enroll contacts",
			})
		}

		if res.RowsAffected > 0 {
			enrolled++
			results = append(results, enrollResult{ContactID: contactID, Outcome: "enrolled"})
		} else {
			results = append(results, enrollResult{ContactID: contactID, Outcome: "already_enrolled"})
		}
	}

	if enrolled > 0 {
		if err := ec.DB.Model(&sequence).
			Update("total_enrolled", gorm.Expr("total_enrolled + ?", enrolled)).Error; err != nil {
			utils.LogError("enrollment_counter_failed", err, map[string]interface{}{
				"sequence_id": sequence.ID,
			})
		}
	}

	utils.LogEvent("contacts_enrolled", map[string]interface{}{
		"sequence_id": sequence.ID,
		"requested":   len(input.ContactIDs),
		"enrolled":    enrolled,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"enrolled": enrolled,
		"results":  results,
	})
}

func suppressionReason(contact *models.Contact) string {
	switch {
	case contact.IsDoNotContact:
		return "do_not_contact"
	case contact.IsUnsubscribed:
		return "unsubscribed"
	case contact.IsBounced:
		return "bounced"
	}
	return ""
}

func (ec *EnrollmentController) ListEnrollments(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := ec.DB.Where("id = ? AND workspace_id = ?", sequenceID, workspace.ID).
		First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	query := ec.DB.Where("sequence_id = ?", sequence.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var enrollments []models.SequenceEnrollment
	if err := query.Order("id ASC").Find(&enrollments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch enrollments",
		})
	}

	return c.JSON(fiber.Map{
		"enrollments": enrollments,
		"count":       len(enrollments),
	})
}

// TriggerEnrollment marks one pending enrollment for manual dispatch. The
// dispatch worker sends it on the next tick regardless of the computed
// schedule; the min-gap throttle still applies.
func (ec *EnrollmentController) TriggerEnrollment(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)
	enrollmentID := c.Params("id")

	var enrollment models.SequenceEnrollment
	if err := ec.DB.Joins("JOIN sequences ON sequences.id = sequence_enrollments.sequence_id").
		Where("sequence_enrollments.id = ? AND sequences.workspace_id = ?", enrollmentID, workspace.ID).
		First(&enrollment).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Enrollment not found",
		})
	}

	if enrollment.Status != models.DeliveryStatusPending {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  "Only pending enrollments can be triggered",
			"status": enrollment.Status,
		})
	}

	now := time.Now()
	if err := ec.DB.Model(&enrollment).Update("manual_triggered_at", now).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to trigger enrollment",
		})
	}
	enrollment.ManualTriggeredAt = &now

	utils.LogEvent("enrollment_triggered", map[string]interface{}{
		"enrollment_id": enrollment.ID,
		"sequence_id":   enrollment.SequenceID,
	})

	return c.JSON(fiber.Map{
		"message":    "Enrollment queued for manual dispatch",
		"enrollment": enrollment,
	})
}
