package controller

import (
	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/config"
	"outreachly/models"
	"outreachly/utils"
)

type SenderController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewSenderController(db *gorm.DB, logger *logrus.Logger) *SenderController {
	return &SenderController{
		DB:     db,
		Logger: logger,
	}
}

func (sc *SenderController) CreateSender(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)

	var input struct {
		Name      string `json:"name" validate:"required"`
		FromEmail string `json:"from_email" validate:"required"`
		FromName  string `json:"from_name" validate:"required"`

		SMTPHost     string `json:"smtp_host" validate:"required"`
		SMTPPort     int    `json:"smtp_port" validate:"required,min=1,max=65535"`
		SMTPUsername string `json:"smtp_username" validate:"required"`
		SMTPPassword string `json:"smtp_password" validate:"required"`
		Encryption   string `json:"encryption" validate:"required,oneof=SSL TLS STARTTLS"`

		IMAPHost       string `json:"imap_host"`
		IMAPPort       int    `json:"imap_port"`
		IMAPUsername   string `json:"imap_username"`
		IMAPPassword   string `json:"imap_password"`
		IMAPEncryption string `json:"imap_encryption"`
		IMAPMailbox    string `json:"imap_mailbox"`

		DailyLimit int `json:"daily_limit"`
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
	if err := checkmail.ValidateFormat(input.FromEmail); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid from email address",
		})
	}

	sender := models.Sender{
		WorkspaceID:    workspace.ID,
		Name:           input.Name,
		FromEmail:      input.FromEmail,
		FromName:       input.FromName,
		SMTPHost:       input.SMTPHost,
		SMTPPort:       input.SMTPPort,
		SMTPUsername:   input.SMTPUsername,
		SMTPPassword:   input.SMTPPassword,
		Encryption:     input.Encryption,
		IMAPHost:       input.IMAPHost,
		IMAPPort:       input.IMAPPort,
		IMAPUsername:   input.IMAPUsername,
		IMAPPassword:   input.IMAPPassword,
		IMAPEncryption: input.IMAPEncryption,
		IMAPMailbox:    input.IMAPMailbox,
		DailyLimit:     input.DailyLimit,
	}
	if sender.DailyLimit <= 0 {
		sender.DailyLimit = config.AppConfig.DailySenderLimit
	}
	if sender.IMAPPort == 0 {
		sender.IMAPPort = 993
	}
	if sender.IMAPMailbox == "" {
		sender.IMAPMailbox = "INBOX"
	}
	if sender.IMAPEncryption == "" {
		sender.IMAPEncryption = "SSL"
	}

	if err := sc.DB.Create(&sender).Error; err != nil {
		utils.LogError("sender_create_failed", err, map[string]interface{}{
			"workspace_id": workspace.ID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sender",
		})
	}

	sender.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Sender created successfully",
		"sender":  sender,
	})
}

func (sc *SenderController) ListSenders(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)

	var senders []models.Sender
	if err := sc.DB.Where("workspace_id = ?", workspace.ID).
		Order("created_at DESC").
		Find(&senders).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch senders",
		})
	}

	for i := range senders {
		senders[i].Sanitize()
	}

	return c.JSON(fiber.Map{
		"senders": senders,
		"count":   len(senders),
	})
}
