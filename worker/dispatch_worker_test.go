package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreachly/models"
)

func TestStepForEnrollment(t *testing.T) {
	seq := &models.Sequence{
		Steps: []models.SequenceStep{
			{StepNumber: 1, Subject: "Intro"},
			{StepNumber: 2, Subject: "Follow-up"},
			{StepNumber: 3, Subject: "Break-up"},
		},
	}

	enr := &models.SequenceEnrollment{CurrentStep: 2}
	step := stepForEnrollment(seq, enr)
	require.NotNil(t, step)
	assert.Equal(t, "Follow-up", step.Subject)

	enr.CurrentStep = 4
	assert.Nil(t, stepForEnrollment(seq, enr))

	assert.Nil(t, stepForEnrollment(&models.Sequence{}, enr))
}
