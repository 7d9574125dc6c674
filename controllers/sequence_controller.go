package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/engine"
	"outreachly/models"
	"outreachly/utils"
)

type SequenceController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewSequenceController(db *gorm.DB, logger *logrus.Logger) *SequenceController {
	return &SequenceController{
		DB:     db,
		Logger: logger,
	}
}

type sequenceStepInput struct {
	Subject         string `json:"subject"`
	Body            string `json:"body"`
	DelayHours      int    `json:"delay_hours" validate:"min=0"`
	SkipIfReplied   bool   `json:"skip_if_replied"`
	SkipIfBounced   *bool  `json:"skip_if_bounced"`
	ReplyDelayHours *int   `json:"reply_delay_hours"`
}

type sequenceInput struct {
	Name        string `json:"name" validate:"required,min=1,max=200"`
	Description string `json:"description"`
	SenderID    *uint  `json:"sender_id"`

	TimingMode   string              `json:"timing_mode" validate:"omitempty,oneof=immediate fixed window"`
	SendAt       string              `json:"send_at"`
	WindowStart  string              `json:"window_start"`
	WindowEnd    string              `json:"window_end"`
	ExtraWindows []models.SendWindow `json:"extra_windows"`
	SendDays     []time.Weekday      `json:"send_days"`

	RespectContactTimezone *bool  `json:"respect_contact_timezone"`
	FallbackTimezone       string `json:"fallback_timezone"`
	SendGapMinutes         *int   `json:"send_gap_minutes"`

	LaunchAt *time.Time `json:"launch_at"`

	Steps []sequenceStepInput `json:"steps"`
}

// applyPolicy copies the timing policy fields from the request onto the
// sequence, filling defaults for the omitted ones.
func (in *sequenceInput) applyPolicy(seq *models.Sequence) {
	seq.Name = in.Name
	seq.Description = in.Description
	seq.SenderID = in.SenderID
	seq.LaunchAt = in.LaunchAt

	seq.TimingMode = in.TimingMode
	if seq.TimingMode == "" {
		seq.TimingMode = models.TimingModeImmediate
	}
	seq.SendAt = in.SendAt
	seq.WindowStart = in.WindowStart
	seq.WindowEnd = in.WindowEnd
	seq.ExtraWindows = in.ExtraWindows
	seq.SendDays = in.SendDays

	seq.RespectContactTimezone = true
	if in.RespectContactTimezone != nil {
		seq.RespectContactTimezone = *in.RespectContactTimezone
	}
	seq.FallbackTimezone = in.FallbackTimezone
	if seq.FallbackTimezone == "" {
		seq.FallbackTimezone = "UTC"
	}
	seq.SendGapMinutes = in.SendGapMinutes
}

func buildSteps(sequenceID uint, inputs []sequenceStepInput) []models.SequenceStep {
	steps := make([]models.SequenceStep, 0, len(inputs))
	for i, in := range inputs {
		skipIfBounced := true
		if in.SkipIfBounced != nil {
			skipIfBounced = *in.SkipIfBounced
		}
		steps = append(steps, models.SequenceStep{
			SequenceID:      sequenceID,
			StepNumber:      i + 1, // renumbered contiguously on every write
			Subject:         in.Subject,
			Body:            in.Body,
			DelayHours:      in.DelayHours,
			SkipIfReplied:   in.SkipIfReplied,
			SkipIfBounced:   skipIfBounced,
			ReplyDelayHours: in.ReplyDelayHours,
		})
	}
	return steps
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)

	var input sequenceInput
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

	sequence := models.Sequence{
		WorkspaceID: workspace.ID,
		Status:      models.SequenceStatusDraft,
	}
	input.applyPolicy(&sequence)

	// Malformed timing policy is rejected here, before the scheduler can
	// ever see it.
	if err := utils.ValidateTimingPolicy(&sequence); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "Invalid timing policy",
			"details": err.Error(),
		})
	}

	tx := sc.DB.Begin()

	if err := tx.Create(&sequence).Error; err != nil {
		tx.Rollback()
		utils.LogError("sequence_create_failed", err, map[string]interface{}{
			"workspace_id": workspace.ID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	steps := buildSteps(sequence.ID, input.Steps)
	if len(steps) > 0 {
		if err := tx.Create(&steps).Error; err != nil {
			tx.Rollback()
			utils.LogError("sequence_steps_create_failed", err, map[string]interface{}{
				"sequence_id": sequence.ID,
			})
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create sequence steps",
			})
		}
	}

	tx.Commit()
	sequence.Steps = steps

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Sequence created successfully",
		"sequence": sequence,
	})
}

func (sc *SequenceController) ListSequences(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)

	var sequences []models.Sequence
	if err := sc.DB.Where("workspace_id = ?", workspace.ID).
		Order("created_at DESC").
		Find(&sequences).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sequences",
		})
	}

	return c.JSON(fiber.Map{
		"sequences": sequences,
		"count":     len(sequences),
	})
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).Where("id = ? AND workspace_id = ?", sequenceID, workspace.ID).
		First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	return c.JSON(fiber.Map{
		"sequence": sequence,
	})
}

func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND workspace_id = ?", sequenceID, workspace.ID).
		First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var input sequenceInput
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

	input.applyPolicy(&sequence)

	if err := utils.ValidateTimingPolicy(&sequence); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "Invalid timing policy",
			"details": err.Error(),
		})
	}

	// Steps are replaced wholesale so step numbers stay contiguous no
	// matter what the client sent.
	tx := sc.DB.Begin()

	if err := tx.Save(&sequence).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sequence",
		})
	}

	if input.Steps != nil {
		if err := tx.Unscoped().Where("sequence_id = ?", sequence.ID).
			Delete(&models.SequenceStep{}).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to replace sequence steps",
			})
		}
		steps := buildSteps(sequence.ID, input.Steps)
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				tx.Rollback()
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Failed to replace sequence steps",
				})
			}
		}
		sequence.Steps = steps
	}

	tx.Commit()

	return c.JSON(fiber.Map{
		"message":  "Sequence updated successfully",
		"sequence": sequence,
	})
}

func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	workspace := c.Locals("workspace").(*models.Workspace)
	sequenceID := c.Params("id")

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND workspace_id = ?", sequenceID, workspace.ID).
		First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	now := time.Now()
	tx := sc.DB.Begin()

	// Pending enrollments are skipped explicitly. Every schedulable contact
	// gets a terminal record, nothing is dropped silently.
	var pending []models.SequenceEnrollment
	if err := tx.Where("sequence_id = ? AND status = ?", sequence.ID, models.DeliveryStatusPending).
		Find(&pending).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve pending enrollments",
		})
	}

	for i := range pending {
		enr := &pending[i]
		enr.Status = models.DeliveryStatusSkipped
		enr.SkippedAt = &now
		enr.ScheduledAt = nil
		if err := tx.Save(enr).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to skip pending enrollments",
			})
		}
		event := models.DeliveryEvent{
			SequenceID:   sequence.ID,
			EnrollmentID: enr.ID,
			ContactID:    enr.ContactID,
			Kind:         models.EventKindSend,
			Status:       models.DeliveryStatusSkipped,
			SkipReason:   models.SkipReasonDeleted,
			OccurredAt:   now,
		}
		if err := tx.Create(&event).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record skip events",
			})
		}
	}

	if err := tx.Delete(&sequence).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sequence",
		})
	}

	tx.Commit()

	utils.LogEvent("sequence_deleted", map[string]interface{}{
		"sequence_id":         sequence.ID,
		"skipped_enrollments": len(pending),
	})

	return c.JSON(fiber.Map{
		"message":             "Sequence deleted",
		"skipped_enrollments": len(pending),
	})
}

// loadWorkspaceSequence is the shared workspace-scoped lookup used by the
// lifecycle and stats handlers.
func (sc *SequenceController) loadWorkspaceSequence(c *fiber.Ctx, preloadSteps bool) (*models.Sequence, error) {
	workspace := c.Locals("workspace").(*models.Workspace)
	sequenceID := c.Params("id")

	query := sc.DB.Where("id = ? AND workspace_id = ?", sequenceID, workspace.ID)
	if preloadSteps {
		query = query.Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number ASC")
		})
	}

	var sequence models.Sequence
	if err := query.First(&sequence).Error; err != nil {
		return nil, err
	}
	return &sequence, nil
}

func lifecycleErrorStatus(err error) int {
	if engine.IsValidation(err) {
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}
