package controller

import (
	"github.com/gofiber/fiber/v2"

	"outreachly/engine"
	"outreachly/models"
)

// GetSequenceStats reduces the raw delivery feed into the sequence status
// rollup: summary counters, per-contact projections and the per-step
// breakdown. The materialized per-step sent counters seed the delivered-count
// map and are overridden by raw counts wherever the feed has send rows.
func (sc *SequenceController) GetSequenceStats(c *fiber.Ctx) error {
	sequence, err := sc.loadWorkspaceSequence(c, true)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var events []models.DeliveryEvent
	if err := sc.DB.Where("sequence_id = ?", sequence.ID).
		Order("occurred_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch delivery events",
		})
	}

	sentPerStep := make(map[uint]int, len(sequence.Steps))
	for i := range sequence.Steps {
		step := &sequence.Steps[i]
		sentPerStep[step.ID] = step.SentCount
	}

	result := engine.Aggregate(events, engine.AggregateContext{
		SequenceID:  sequence.ID,
		Steps:       sequence.Steps,
		SentPerStep: sentPerStep,
	})

	return c.JSON(fiber.Map{
		"sequence_id": sequence.ID,
		"name":        sequence.Name,
		"status":      sequence.Status,
		"stats":       result,
	})
}
