package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreachly/engine"
	"outreachly/models"
)

func TestValidateTimingPolicyImmediate(t *testing.T) {
	seq := &models.Sequence{TimingMode: models.TimingModeImmediate}
	assert.NoError(t, ValidateTimingPolicy(seq))
}

func TestValidateTimingPolicyFixed(t *testing.T) {
	seq := &models.Sequence{TimingMode: models.TimingModeFixed, SendAt: "09:30"}
	assert.NoError(t, ValidateTimingPolicy(seq))

	seq.SendAt = "9am"
	err := ValidateTimingPolicy(seq)
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestValidateTimingPolicyWindowEndBeforeStart(t *testing.T) {
	seq := &models.Sequence{
		TimingMode:  models.TimingModeWindow,
		WindowStart: "17:00",
		WindowEnd:   "09:00",
	}
	err := ValidateTimingPolicy(seq)
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestValidateTimingPolicyOverlappingWindows(t *testing.T) {
	seq := &models.Sequence{
		TimingMode:  models.TimingModeWindow,
		WindowStart: "09:00",
		WindowEnd:   "12:00",
		ExtraWindows: []models.SendWindow{
			{Start: "11:00", End: "15:00"},
		},
	}
	err := ValidateTimingPolicy(seq)
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))

	seq.ExtraWindows = []models.SendWindow{{Start: "14:00", End: "16:00"}}
	assert.NoError(t, ValidateTimingPolicy(seq))
}

func TestValidateTimingPolicyEmptyDayList(t *testing.T) {
	seq := &models.Sequence{
		TimingMode: models.TimingModeImmediate,
		SendDays:   []time.Weekday{},
	}
	err := ValidateTimingPolicy(seq)
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))

	seq.SendDays = []time.Weekday{time.Monday, time.Friday}
	assert.NoError(t, ValidateTimingPolicy(seq))
}

func TestValidateTimingPolicyUnknownTimezone(t *testing.T) {
	seq := &models.Sequence{
		TimingMode:       models.TimingModeImmediate,
		FallbackTimezone: "Mars/Olympus_Mons",
	}
	err := ValidateTimingPolicy(seq)
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestValidateTimingPolicyUnknownMode(t *testing.T) {
	seq := &models.Sequence{TimingMode: "random"}
	err := ValidateTimingPolicy(seq)
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestValidateStructReportsFields(t *testing.T) {
	type payload struct {
		Name  string `validate:"required"`
		Email string `validate:"required,email"`
	}

	err := ValidateStruct(payload{Email: "not-an-email"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "email must be a valid email")

	assert.NoError(t, ValidateStruct(payload{Name: "x", Email: "a@b.co"}))
}
