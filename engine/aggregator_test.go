package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreachly/models"
)

func event(seqID, contactID uint, kind, status string, at time.Time) models.DeliveryEvent {
	return models.DeliveryEvent{
		SequenceID: seqID,
		ContactID:  contactID,
		Kind:       kind,
		Status:     status,
		OccurredAt: at,
	}
}

func stepEvent(seqID, contactID, stepID uint, kind, status string, at time.Time) models.DeliveryEvent {
	e := event(seqID, contactID, kind, status, at)
	e.StepID = &stepID
	return e
}

func TestAggregateEmptyFeed(t *testing.T) {
	result := Aggregate(nil, AggregateContext{SequenceID: 1})

	assert.Zero(t, result.Summary.Total)
	assert.Nil(t, result.Summary.LastActivity)
	assert.Empty(t, result.Contacts)
	assert.Empty(t, result.Steps)
	assert.Empty(t, result.SentPerStep)
	assert.Empty(t, result.UniqueReplyContacts)
}

func TestAggregateFiltersOtherSequences(t *testing.T) {
	at := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	rows := []models.DeliveryEvent{
		event(1, 100, models.EventKindSend, models.DeliveryStatusSent, at),
		event(2, 100, models.EventKindReply, models.DeliveryStatusReplied, at.Add(time.Hour)),
		event(2, 200, models.EventKindSend, models.DeliveryStatusSent, at),
	}

	result := Aggregate(rows, AggregateContext{SequenceID: 1})

	assert.Equal(t, 1, result.Summary.Total)
	assert.Equal(t, 0, result.Summary.ReplyCount, "reply from another sequence must not leak in")
	require.Len(t, result.Contacts, 1)
	assert.Equal(t, uint(100), result.Contacts[0].ContactID)
	assert.Equal(t, at, result.Summary.LastActivity.UTC())
}

func TestAggregatePartitionInvariant(t *testing.T) {
	at := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	rows := []models.DeliveryEvent{
		event(1, 1, models.EventKindSend, models.DeliveryStatusSent, at),
		event(1, 2, models.EventKindSend, models.DeliveryStatusFailed, at),
		event(1, 3, models.EventKindReply, models.DeliveryStatusReplied, at),
		event(1, 4, models.EventKindBounce, models.DeliveryStatusBounced, at),
		event(1, 5, models.EventKindSend, models.DeliveryStatusSkipped, at),
		event(1, 6, models.EventKindSend, models.DeliveryStatusPending, at),
		event(1, 7, models.EventKindSend, "", at), // absent status counts as pending
	}

	result := Aggregate(rows, AggregateContext{SequenceID: 1})

	s := result.Summary
	assert.Equal(t, s.Total, s.Pending+s.Sent+s.Replied+s.Bounced+s.Failed+s.Skipped)
	assert.Equal(t, 7, s.Total)
	assert.Equal(t, 2, s.Pending)
}

func TestAggregateIsIdempotent(t *testing.T) {
	at := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	step := uint(10)
	rows := []models.DeliveryEvent{
		stepEvent(1, 1, step, models.EventKindSend, models.DeliveryStatusSent, at),
		event(1, 2, models.EventKindReply, models.DeliveryStatusReplied, at.Add(time.Minute)),
		event(1, 1, models.EventKindReply, models.DeliveryStatusReplied, at.Add(2*time.Minute)),
	}
	ctx := AggregateContext{SequenceID: 1, SentPerStep: map[uint]int{step: 3}}

	first := Aggregate(rows, ctx)
	second := Aggregate(rows, ctx)
	assert.Equal(t, first, second)
}

func TestAggregateReplySignalOverlaysSentStatus(t *testing.T) {
	at := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	rows := []models.DeliveryEvent{
		// Reply-classified row lands before the latest send row: the
		// materialized status stays "sent" while the reply signal is kept.
		event(1, 1, models.EventKindReply, "", at),
		event(1, 1, models.EventKindSend, models.DeliveryStatusSent, at.Add(time.Hour)),
	}

	result := Aggregate(rows, AggregateContext{SequenceID: 1})

	require.Len(t, result.Contacts, 1)
	c := result.Contacts[0]
	assert.Equal(t, models.DeliveryStatusSent, c.Status)
	assert.True(t, c.HasReplySignal)
	require.NotNil(t, c.ReplyAt)
	assert.Equal(t, at, c.ReplyAt.UTC())

	// replyCount is authoritative for "who replied"; replied is the
	// lagging materialized count. The divergence is intentional.
	assert.Equal(t, 1, result.Summary.ReplyCount)
	assert.Equal(t, 0, result.Summary.Replied)
	assert.Equal(t, []uint{1}, result.UniqueReplyContacts)
}

func TestAggregateReplyCountDeduplicatesContacts(t *testing.T) {
	at := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	rows := []models.DeliveryEvent{
		event(1, 1, models.EventKindReply, models.DeliveryStatusReplied, at),
		event(1, 1, models.EventKindReply, models.DeliveryStatusReplied, at.Add(time.Hour)),
		event(1, 2, models.EventKindReply, models.DeliveryStatusReplied, at),
	}

	result := Aggregate(rows, AggregateContext{SequenceID: 1})
	assert.Equal(t, 2, result.Summary.ReplyCount)
	assert.Equal(t, []uint{1, 2}, result.UniqueReplyContacts)

	// Earliest reply per contact is the one carried forward.
	require.NotNil(t, result.Contacts[0].ReplyAt)
	assert.Equal(t, at, result.Contacts[0].ReplyAt.UTC())
}

func TestAggregateStepBreakdown(t *testing.T) {
	at := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	stepOne := models.SequenceStep{StepNumber: 1, Subject: "Intro"}
	stepOne.ID = 10
	stepTwo := models.SequenceStep{StepNumber: 2, Subject: "Follow-up"}
	stepTwo.ID = 20

	rows := []models.DeliveryEvent{
		stepEvent(1, 1, 10, models.EventKindSend, models.DeliveryStatusSent, at),
		stepEvent(1, 2, 10, models.EventKindSend, models.DeliveryStatusFailed, at),
		stepEvent(1, 1, 20, models.EventKindSend, models.DeliveryStatusSent, at.Add(time.Hour)),
		stepEvent(1, 3, 99, models.EventKindSend, models.DeliveryStatusSent, at), // step unknown to context
		event(1, 4, models.EventKindSend, models.DeliveryStatusPending, at),      // no step yet
	}

	result := Aggregate(rows, AggregateContext{SequenceID: 1, Steps: []models.SequenceStep{stepOne, stepTwo}})
	require.Len(t, result.Steps, 4)

	first := result.Steps[0]
	require.NotNil(t, first.StepID)
	assert.Equal(t, uint(10), *first.StepID)
	require.NotNil(t, first.Subject)
	assert.Equal(t, "Intro", *first.Subject)
	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, 2, first.Total)

	unknown := result.Steps[2]
	require.NotNil(t, unknown.StepID)
	assert.Equal(t, uint(99), *unknown.StepID)
	assert.Nil(t, unknown.Subject, "steps absent from context still get a bucket, with no subject")

	nullBucket := result.Steps[3]
	assert.Nil(t, nullBucket.StepID)
	assert.Equal(t, 1, nullBucket.Pending)
}

func TestAggregateSentPerStepRawCountWins(t *testing.T) {
	at := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	rows := []models.DeliveryEvent{
		stepEvent(1, 1, 10, models.EventKindSend, models.DeliveryStatusSent, at),
		stepEvent(1, 2, 10, models.EventKindSend, models.DeliveryStatusSent, at),
		stepEvent(1, 3, 10, models.EventKindSend, models.DeliveryStatusFailed, at),
	}
	ctx := AggregateContext{
		SequenceID:  1,
		SentPerStep: map[uint]int{10: 7, 20: 4}, // stale cache
	}

	result := Aggregate(rows, ctx)

	assert.Equal(t, 2, result.SentPerStep[10], "raw count overrides the stale cache")
	assert.Equal(t, 4, result.SentPerStep[20], "cache survives for steps the feed has no rows for")
}

func TestAggregateLastActivityIsMaxAcrossKinds(t *testing.T) {
	at := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	rows := []models.DeliveryEvent{
		event(1, 1, models.EventKindSend, models.DeliveryStatusSent, at),
		event(1, 1, models.EventKindBounce, models.DeliveryStatusBounced, at.Add(3*time.Hour)),
		event(1, 2, models.EventKindSend, models.DeliveryStatusSent, at.Add(time.Hour)),
	}

	result := Aggregate(rows, AggregateContext{SequenceID: 1})
	require.NotNil(t, result.Summary.LastActivity)
	assert.Equal(t, at.Add(3*time.Hour), result.Summary.LastActivity.UTC())
}

func TestAggregateLatestRowProjectsStatus(t *testing.T) {
	at := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	rows := []models.DeliveryEvent{
		event(1, 1, models.EventKindSend, models.DeliveryStatusSent, at),
		event(1, 1, models.EventKindBounce, models.DeliveryStatusBounced, at.Add(time.Hour)),
	}

	result := Aggregate(rows, AggregateContext{SequenceID: 1})
	require.Len(t, result.Contacts, 1)
	assert.Equal(t, models.DeliveryStatusBounced, result.Contacts[0].Status)
	require.NotNil(t, result.Contacts[0].BounceAt)
}
