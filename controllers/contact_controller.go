package controller

import (
	"time"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/models"
	"outreachly/utils"
)

type ContactController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewContactController(db *gorm.DB, logger *logrus.Logger) *ContactController {
	return &ContactController{
		DB:     db,
		Logger: logger,
	}
}

func (cc *ContactController) CreateContact(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)

	var input struct {
		Email     string `json:"email" validate:"required"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Company   string `json:"company"`
		Timezone  string `json:"timezone"`
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

	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	// An unknown zone is stored as empty rather than rejected; the
	// scheduler falls back to the sequence zone for those contacts.
	if input.Timezone != "" {
		if _, err := time.LoadLocation(input.Timezone); err != nil {
			input.Timezone = ""
		}
	}

	contact := models.Contact{
		WorkspaceID: workspace.ID,
		Email:       input.Email,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Company:     input.Company,
		Timezone:    input.Timezone,
	}

	res := cc.DB.Where("workspace_id = ? AND email = ?", workspace.ID, input.Email).
		FirstOrCreate(&contact)
	if res.Error != nil {
		utils.LogError("contact_create_failed", res.Error, map[string]interface{}{
			"workspace_id": workspace.ID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create contact",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "Contact already exists",
			"contact": contact,
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Contact created successfully",
		"contact": contact,
	})
}

func (cc *ContactController) ListContacts(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)

	query := cc.DB.Where("workspace_id = ?", workspace.ID)
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where("email ILIKE ? OR first_name ILIKE ? OR last_name ILIKE ? OR company ILIKE ?",
			like, like, like, like)
	}

	var contacts []models.Contact
	if err := query.Order("created_at DESC").Limit(500).Find(&contacts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch contacts",
		})
	}

	return c.JSON(fiber.Map{
		"contacts": contacts,
		"count":    len(contacts),
	})
}

// UpdateSuppression toggles the contact-level suppression flags. Suppressed
// contacts are refused at enrollment time; existing enrollments are handled
// by the per-step skip policies.
func (cc *ContactController) UpdateSuppression(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)
	contactID := c.Params("id")

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND workspace_id = ?", contactID, workspace.ID).
		First(&contact).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}

	var input struct {
		IsUnsubscribed *bool `json:"is_unsubscribed"`
		IsDoNotContact *bool `json:"is_do_not_contact"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	updates := map[string]interface{}{}
	if input.IsUnsubscribed != nil {
		updates["is_unsubscribed"] = *input.IsUnsubscribed
		contact.IsUnsubscribed = *input.IsUnsubscribed
	}
	if input.IsDoNotContact != nil {
		updates["is_do_not_contact"] = *input.IsDoNotContact
		contact.IsDoNotContact = *input.IsDoNotContact
	}
	if len(updates) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No suppression flags provided",
		})
	}

	if err := cc.DB.Model(&contact).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update contact",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Contact updated",
		"contact": contact,
	})
}
