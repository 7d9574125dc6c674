package engine

import (
	"time"

	"outreachly/models"
)

// Lifecycle: draft -> active <-> paused. Draft is entered once, at creation,
// and is one-way out; nothing ever transitions back to it.

// Launch activates a draft sequence. Preconditions: a sender is assigned and
// at least one step has content. Idempotent when already active.
func Launch(seq *models.Sequence, now time.Time) error {
	switch seq.Status {
	case models.SequenceStatusActive:
		return nil
	case models.SequenceStatusPaused:
		return &ValidationError{Reason: "sequence already launched; resume it instead"}
	}

	if seq.SenderID == nil {
		return &ValidationError{Reason: "cannot launch a sequence without an assigned sender"}
	}

	hasContent := false
	for i := range seq.Steps {
		if seq.Steps[i].HasContent() {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return &ValidationError{Reason: "cannot launch a sequence without at least one step with content"}
	}

	seq.Status = models.SequenceStatusActive
	seq.LaunchedAt = &now
	return nil
}

// Pause freezes scheduling without altering any enrollment's current step or
// status. Idempotent when already paused.
func Pause(seq *models.Sequence) error {
	switch seq.Status {
	case models.SequenceStatusPaused:
		return nil
	case models.SequenceStatusDraft:
		return &ValidationError{Reason: "cannot pause a sequence that was never launched"}
	}
	seq.Status = models.SequenceStatusPaused
	return nil
}

// Resume re-activates a paused sequence. Scheduling continues from each
// enrollment's existing state; already-elapsed delays are not recomputed.
// Idempotent when already active.
func Resume(seq *models.Sequence) error {
	switch seq.Status {
	case models.SequenceStatusActive:
		return nil
	case models.SequenceStatusDraft:
		return &ValidationError{Reason: "cannot resume a sequence that was never launched"}
	}
	seq.Status = models.SequenceStatusActive
	return nil
}

// CanSchedule reports whether the scheduler may produce new send times
func CanSchedule(seq *models.Sequence) bool {
	return seq.Status == models.SequenceStatusActive
}

// DueForLaunch reports whether a draft sequence with a configured future
// activation time should be launched now. The dispatch worker's tick calls
// this; the transition itself still goes through Launch.
func DueForLaunch(seq *models.Sequence, now time.Time) bool {
	return seq.Status == models.SequenceStatusDraft &&
		seq.LaunchAt != nil && !now.Before(*seq.LaunchAt)
}
