package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreachly/models"
)

func testSequence(mode string) *models.Sequence {
	senderID := uint(1)
	return &models.Sequence{
		Status:           models.SequenceStatusActive,
		SenderID:         &senderID,
		TimingMode:       mode,
		FallbackTimezone: "UTC",
	}
}

func testStep() *models.SequenceStep {
	return &models.SequenceStep{StepNumber: 1, Subject: "Hello", DelayHours: 0}
}

func TestComputeNextSendDraftNeverSchedules(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeImmediate)
	seq.Status = models.SequenceStatusDraft

	result, err := s.ComputeNextSend(seq, &models.SequenceEnrollment{}, testStep(), 5, time.Now())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, models.SkipReasonDraft, result.SkipReason)
	assert.Nil(t, result.ScheduledAt)
}

func TestComputeNextSendPausedNeverSchedules(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeImmediate)
	seq.Status = models.SequenceStatusPaused

	result, err := s.ComputeNextSend(seq, &models.SequenceEnrollment{}, testStep(), 5, time.Now())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, models.SkipReasonPaused, result.SkipReason)
	assert.Nil(t, result.ScheduledAt)
}

func TestComputeNextSendImmediateUsesBaseTime(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeImmediate)
	seq.SenderID = nil
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	step := testStep()
	step.DelayHours = 24

	result, err := s.ComputeNextSend(seq, &models.SequenceEnrollment{}, step, 5, now)
	require.NoError(t, err)
	require.NotNil(t, result.ScheduledAt)
	assert.Equal(t, now.Add(24*time.Hour), *result.ScheduledAt)
	assert.False(t, result.Skipped)
}

func TestComputeNextSendWindowAdvancesToNextWindow(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeWindow)
	seq.SenderID = nil
	seq.WindowStart = "09:00"
	seq.WindowEnd = "11:00"
	seq.ExtraWindows = []models.SendWindow{{Start: "14:00", End: "16:00"}}

	// Monday, 12:30 UTC, between the two windows.
	now := time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC)

	result, err := s.ComputeNextSend(seq, &models.SequenceEnrollment{}, testStep(), 5, now)
	require.NoError(t, err)
	require.NotNil(t, result.ScheduledAt)
	assert.Equal(t, time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC), result.ScheduledAt.UTC())
	assert.Equal(t, models.SkipReasonOutsideWindow, result.DeferralReason)
}

func TestComputeNextSendWindowKeepsTimeInsideWindow(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeWindow)
	seq.SenderID = nil
	seq.WindowStart = "09:00"
	seq.WindowEnd = "11:00"

	now := time.Date(2024, 6, 10, 10, 15, 0, 0, time.UTC)

	result, err := s.ComputeNextSend(seq, &models.SequenceEnrollment{}, testStep(), 5, now)
	require.NoError(t, err)
	require.NotNil(t, result.ScheduledAt)
	assert.Equal(t, now, *result.ScheduledAt)
	assert.Empty(t, result.DeferralReason)
}

func TestComputeNextSendWindowHonorsWeekdayAllowList(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeWindow)
	seq.SenderID = nil
	seq.WindowStart = "09:00"
	seq.WindowEnd = "11:00"
	seq.SendDays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

	// Saturday morning inside the wall-clock window, but Saturday is not allowed.
	now := time.Date(2024, 6, 8, 9, 30, 0, 0, time.UTC)

	result, err := s.ComputeNextSend(seq, &models.SequenceEnrollment{}, testStep(), 5, now)
	require.NoError(t, err)
	require.NotNil(t, result.ScheduledAt)
	assert.Equal(t, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC), result.ScheduledAt.UTC())
}

func TestComputeNextSendFixedRespectsContactTimezone(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeFixed)
	seq.SenderID = nil
	seq.SendAt = "09:00"
	seq.RespectContactTimezone = true

	enr := &models.SequenceEnrollment{Timezone: "America/New_York"}
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC) // 04:00 in New York

	result, err := s.ComputeNextSend(seq, enr, testStep(), 5, now)
	require.NoError(t, err)
	require.NotNil(t, result.ScheduledAt)

	// Next 09:00 New York local, as an absolute instant (EDT: 13:00 UTC).
	assert.Equal(t, time.Date(2024, 6, 10, 13, 0, 0, 0, time.UTC), result.ScheduledAt.UTC())
}

func TestComputeNextSendFixedFallsBackToSequenceTimezone(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeFixed)
	seq.SenderID = nil
	seq.SendAt = "09:00"
	seq.RespectContactTimezone = true
	seq.FallbackTimezone = "Europe/Berlin"

	// No contact timezone recorded.
	now := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC) // 07:00 in Berlin (CET)

	result, err := s.ComputeNextSend(seq, &models.SequenceEnrollment{}, testStep(), 5, now)
	require.NoError(t, err)
	require.NotNil(t, result.ScheduledAt)
	assert.Equal(t, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), result.ScheduledAt.UTC())
}

func TestComputeNextSendMinGapThrottlesSameSender(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeImmediate)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	first, err := s.ComputeNextSend(seq, &models.SequenceEnrollment{}, testStep(), 5, now)
	require.NoError(t, err)
	require.NotNil(t, first.ScheduledAt)
	assert.Zero(t, first.ThrottleDelay)

	second, err := s.ComputeNextSend(seq, &models.SequenceEnrollment{}, testStep(), 5, now.Add(10*time.Second))
	require.NoError(t, err)
	require.NotNil(t, second.ScheduledAt)
	assert.Equal(t, first.ScheduledAt.Add(5*time.Minute), *second.ScheduledAt)
	assert.Equal(t, 5*time.Minute-10*time.Second, second.ThrottleDelay)
}

func TestComputeNextSendSkipIfReplied(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeImmediate)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	step := testStep()
	step.SkipIfReplied = true

	replyAt := now.Add(-time.Hour)
	enr := &models.SequenceEnrollment{ReplyAt: &replyAt}

	result, err := s.ComputeNextSend(seq, enr, step, 5, now)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, models.SkipReasonReplyStop, result.SkipReason)
	assert.Nil(t, result.ScheduledAt)
}

func TestComputeNextSendReplyDelayReschedules(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeImmediate)
	seq.SenderID = nil
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	replyDelay := 48
	step := testStep()
	step.ReplyDelayHours = &replyDelay

	replyAt := now.Add(-time.Hour)
	enr := &models.SequenceEnrollment{ReplyAt: &replyAt}

	result, err := s.ComputeNextSend(seq, enr, step, 5, now)
	require.NoError(t, err)
	require.NotNil(t, result.ScheduledAt)
	assert.Equal(t, replyAt.Add(48*time.Hour), *result.ScheduledAt)
	assert.Equal(t, models.SkipReasonReplyDelay, result.DeferralReason)
	require.NotNil(t, result.RescheduledFor)
	assert.Equal(t, *result.ScheduledAt, *result.RescheduledFor)
}

func TestComputeNextSendSkipIfBounced(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeImmediate)
	now := time.Now()

	step := testStep()
	step.SkipIfBounced = true

	bounceAt := now.Add(-2 * time.Hour)
	enr := &models.SequenceEnrollment{BounceAt: &bounceAt}

	result, err := s.ComputeNextSend(seq, enr, step, 5, now)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, models.SkipReasonBouncePolicy, result.SkipReason)
}

func TestComputeNextSendScheduledAtIsMonotonic(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeImmediate)
	seq.SenderID = nil
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	existing := now.Add(2 * time.Hour)
	enr := &models.SequenceEnrollment{ScheduledAt: &existing}

	result, err := s.ComputeNextSend(seq, enr, testStep(), 5, now)
	require.NoError(t, err)
	require.NotNil(t, result.ScheduledAt)
	assert.Equal(t, existing, *result.ScheduledAt, "recomputation must not move the schedule earlier")
}

func TestComputeNextSendInvalidWindowFailsFast(t *testing.T) {
	s := NewScheduler(NewThrottleGate())
	seq := testSequence(models.TimingModeWindow)
	seq.WindowStart = "16:00"
	seq.WindowEnd = "09:00"

	_, err := s.ComputeNextSend(seq, &models.SequenceEnrollment{}, testStep(), 5, time.Now())
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
}

func TestEffectiveGapResolution(t *testing.T) {
	seq := &models.Sequence{}
	assert.Equal(t, 10*time.Minute, EffectiveGap(seq, 10))
	assert.Equal(t, 5*time.Minute, EffectiveGap(seq, 0), "documented default applies without a workspace value")

	override := 2
	seq.SendGapMinutes = &override
	assert.Equal(t, 2*time.Minute, EffectiveGap(seq, 10), "sequence override wins")
}
