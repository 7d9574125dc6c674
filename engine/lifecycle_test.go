package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreachly/models"
)

func launchableSequence() *models.Sequence {
	senderID := uint(1)
	return &models.Sequence{
		Status:   models.SequenceStatusDraft,
		SenderID: &senderID,
		Steps: []models.SequenceStep{
			{StepNumber: 1, Subject: "Intro", Body: "Hi"},
		},
	}
}

func TestLaunchActivatesDraft(t *testing.T) {
	seq := launchableSequence()
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, Launch(seq, now))
	assert.Equal(t, models.SequenceStatusActive, seq.Status)
	require.NotNil(t, seq.LaunchedAt)
	assert.Equal(t, now, *seq.LaunchedAt)
}

func TestLaunchRequiresSender(t *testing.T) {
	seq := launchableSequence()
	seq.SenderID = nil

	err := Launch(seq, time.Now())
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, models.SequenceStatusDraft, seq.Status)
}

func TestLaunchRequiresStepContent(t *testing.T) {
	seq := launchableSequence()
	seq.Steps = []models.SequenceStep{{StepNumber: 1}}

	err := Launch(seq, time.Now())
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestLaunchIsIdempotentWhenActive(t *testing.T) {
	seq := launchableSequence()
	now := time.Now()
	require.NoError(t, Launch(seq, now))
	launchedAt := *seq.LaunchedAt

	require.NoError(t, Launch(seq, now.Add(time.Hour)))
	assert.Equal(t, launchedAt, *seq.LaunchedAt, "relaunch must not move the recorded launch time")
}

func TestPauseAndResume(t *testing.T) {
	seq := launchableSequence()
	require.NoError(t, Launch(seq, time.Now()))

	require.NoError(t, Pause(seq))
	assert.Equal(t, models.SequenceStatusPaused, seq.Status)
	assert.False(t, CanSchedule(seq))

	require.NoError(t, Pause(seq), "pause is idempotent")

	require.NoError(t, Resume(seq))
	assert.Equal(t, models.SequenceStatusActive, seq.Status)
	assert.True(t, CanSchedule(seq))

	require.NoError(t, Resume(seq), "resume is idempotent")
}

func TestDraftCannotPauseOrResume(t *testing.T) {
	seq := launchableSequence()

	assert.True(t, IsValidation(Pause(seq)))
	assert.True(t, IsValidation(Resume(seq)))
	assert.Equal(t, models.SequenceStatusDraft, seq.Status, "nothing transitions out of draft except launch")
}

func TestLaunchFromPausedIsRejected(t *testing.T) {
	seq := launchableSequence()
	require.NoError(t, Launch(seq, time.Now()))
	require.NoError(t, Pause(seq))

	err := Launch(seq, time.Now())
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, models.SequenceStatusPaused, seq.Status)
}

func TestDueForLaunch(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	launchAt := now.Add(-time.Minute)

	seq := launchableSequence()
	seq.LaunchAt = &launchAt
	assert.True(t, DueForLaunch(seq, now))

	future := now.Add(time.Hour)
	seq.LaunchAt = &future
	assert.False(t, DueForLaunch(seq, now))

	seq.LaunchAt = nil
	assert.False(t, DueForLaunch(seq, now))

	seq.LaunchAt = &launchAt
	seq.Status = models.SequenceStatusActive
	assert.False(t, DueForLaunch(seq, now), "only drafts auto-launch")
}
