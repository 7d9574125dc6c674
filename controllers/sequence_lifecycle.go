package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"outreachly/engine"
	"outreachly/models"
	"outreachly/utils"
)

// LaunchSequence transitions a draft sequence to active. Launching an
// already-active sequence is a no-op; a paused sequence must be resumed
// instead.
func (sc *SequenceController) LaunchSequence(c *fiber.Ctx) error {
	sequence, err := sc.loadWorkspaceSequence(c, true)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	if err := engine.Launch(sequence, time.Now()); err != nil {
		return c.Status(lifecycleErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := sc.DB.Model(sequence).Updates(map[string]interface{}{
		"status":      sequence.Status,
		"launched_at": sequence.LaunchedAt,
	}).Error; err != nil {
		utils.LogError("sequence_launch_persist_failed", err, map[string]interface{}{
			"sequence_id": sequence.ID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to launch sequence",
		})
	}

	utils.LogEvent("sequence_launched", map[string]interface{}{
		"sequence_id": sequence.ID,
	})

	return c.JSON(fiber.Map{
		"message":  "Sequence launched",
		"sequence": sequence,
	})
}

// PauseSequence holds an active sequence. Scheduled sends stay in place but
// the dispatch worker will not act on them until the sequence resumes.
func (sc *SequenceController) PauseSequence(c *fiber.Ctx) error {
	sequence, err := sc.loadWorkspaceSequence(c, false)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	if err := engine.Pause(sequence); err != nil {
		return c.Status(lifecycleErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := sc.DB.Model(sequence).Update("status", sequence.Status).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to pause sequence",
		})
	}

	utils.LogEvent("sequence_paused", map[string]interface{}{
		"sequence_id": sequence.ID,
	})

	return c.JSON(fiber.Map{
		"message":  "Sequence paused",
		"sequence": sequence,
	})
}

// ResumeSequence reactivates a paused sequence. Pending schedules computed
// before the pause are cleared so the worker recomputes them against the
// current clock and throttle state.
func (sc *SequenceController) ResumeSequence(c *fiber.Ctx) error {
	sequence, err := sc.loadWorkspaceSequence(c, false)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	if err := engine.Resume(sequence); err != nil {
		return c.Status(lifecycleErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	tx := sc.DB.Begin()
	if err := tx.Model(sequence).Update("status", sequence.Status).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resume sequence",
		})
	}
	if err := tx.Model(&models.SequenceEnrollment{}).
		Where("sequence_id = ? AND status = ?", sequence.ID, models.DeliveryStatusPending).
		Update("scheduled_at", nil).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to reset pending schedules",
		})
	}
	tx.Commit()

	utils.LogEvent("sequence_resumed", map[string]interface{}{
		"sequence_id": sequence.ID,
	})

	return c.JSON(fiber.Map{
		"message":  "Sequence resumed",
		"sequence": sequence,
	})
}
