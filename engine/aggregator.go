package engine

import (
	"sort"
	"time"

	"outreachly/models"
)

// AggregateContext scopes one aggregation run. Steps and SentPerStep are
// optional enrichments: step metadata labels the per-step breakdown, and
// SentPerStep seeds the delivered-count map from a previously materialized
// cache.
type AggregateContext struct {
	SequenceID  uint
	Steps       []models.SequenceStep
	SentPerStep map[uint]int
}

// ContactStatus is the reduced view of one contact under one sequence. The
// primary status comes from the most recent row; reply/bounce signals are an
// overlay carried independently, so a contact can be "sent" and still hold a
// ReplyAt.
type ContactStatus struct {
	ContactID      uint       `json:"contact_id"`
	Status         string     `json:"status"`
	ReplyAt        *time.Time `json:"reply_at,omitempty"`
	BounceAt       *time.Time `json:"bounce_at,omitempty"`
	HasReplySignal bool       `json:"has_reply_signal"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

// StatusCounts is one partition of contacts by current status
type StatusCounts struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Replied int `json:"replied"`
	Bounced int `json:"bounced"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (c *StatusCounts) add(status string) {
	switch status {
	case models.DeliveryStatusSent:
		c.Sent++
	case models.DeliveryStatusReplied:
		c.Replied++
	case models.DeliveryStatusBounced:
		c.Bounced++
	case models.DeliveryStatusFailed:
		c.Failed++
	case models.DeliveryStatusSkipped:
		c.Skipped++
	default:
		// Unknown or absent statuses are "not yet known", not errors.
		c.Pending++
	}
}

// StepBreakdown mirrors the summary partition scoped to one step. StepID is
// nil for the bucket of rows not yet associated with a step; Subject is nil
// when the step is unknown to the context.
type StepBreakdown struct {
	StepID  *uint   `json:"step_id"`
	Subject *string `json:"subject"`
	Total   int     `json:"total"`
	StatusCounts
}

// Summary holds the sequence-wide counters. Replied counts materialized
// statuses; ReplyCount counts unique contacts with any reply signal. The two
// intentionally diverge when a reply is detected out-of-band before the
// enrollment's primary status catches up.
type Summary struct {
	Total int `json:"total"`
	StatusCounts
	ReplyCount   int        `json:"reply_count"`
	LastActivity *time.Time `json:"last_activity"`
}

// AggregateResult is the full reduction consumed by status surfaces
type AggregateResult struct {
	Summary             Summary         `json:"summary"`
	Contacts            []ContactStatus `json:"contacts"`
	Steps               []StepBreakdown `json:"steps"`
	SentPerStep         map[uint]int    `json:"sent_per_step"`
	UniqueReplyContacts []uint          `json:"unique_reply_contacts"`
}

func rowTime(row *models.DeliveryEvent) time.Time {
	if !row.OccurredAt.IsZero() {
		return row.OccurredAt
	}
	return row.CreatedAt
}

func isReplySignal(row *models.DeliveryEvent) bool {
	return row.Kind == models.EventKindReply || row.Status == models.DeliveryStatusReplied
}

func isBounceSignal(row *models.DeliveryEvent) bool {
	return row.Kind == models.EventKindBounce || row.Status == models.DeliveryStatusBounced
}

type contactState struct {
	latest      *models.DeliveryEvent
	latestAt    time.Time
	replyAt     *time.Time
	bounceAt    *time.Time
	lastEventAt time.Time
}

// stepKey distinguishes the nil-step bucket from real step ids
type stepKey struct {
	id   uint
	null bool
}

// Aggregate reduces the raw per-contact delivery feed for one sequence into
// summary counters, projected contact statuses, per-step breakdowns and the
// delivered-count map. Rows belonging to other sequences are discarded
// before any processing. Pure and idempotent; tolerates partially written
// rows by treating absent fields as not yet known.
func Aggregate(rows []models.DeliveryEvent, ctx AggregateContext) AggregateResult {
	result := AggregateResult{
		Contacts:            []ContactStatus{},
		Steps:               []StepBreakdown{},
		SentPerStep:         map[uint]int{},
		UniqueReplyContacts: []uint{},
	}

	contacts := make(map[uint]*contactState)
	stepLatest := make(map[stepKey]map[uint]*models.DeliveryEvent)
	stepLatestAt := make(map[stepKey]map[uint]time.Time)
	rawSent := make(map[uint]int)
	sawSendRows := make(map[uint]bool)
	var lastActivity *time.Time

	for i := range rows {
		row := &rows[i]
		if row.SequenceID != ctx.SequenceID {
			continue
		}

		at := rowTime(row)
		if lastActivity == nil || at.After(*lastActivity) {
			t := at
			lastActivity = &t
		}

		state, ok := contacts[row.ContactID]
		if !ok {
			state = &contactState{}
			contacts[row.ContactID] = state
		}
		if state.latest == nil || !at.Before(state.latestAt) {
			state.latest = row
			state.latestAt = at
		}
		if at.After(state.lastEventAt) {
			state.lastEventAt = at
		}
		if isReplySignal(row) && (state.replyAt == nil || at.Before(*state.replyAt)) {
			t := at
			state.replyAt = &t
		}
		if isBounceSignal(row) && (state.bounceAt == nil || at.Before(*state.bounceAt)) {
			t := at
			state.bounceAt = &t
		}

		// Per-step projection keeps the latest row per (step, contact) so
		// a contact counts once per step bucket.
		key := stepKey{null: row.StepID == nil}
		if row.StepID != nil {
			key.id = *row.StepID
		}
		if stepLatest[key] == nil {
			stepLatest[key] = make(map[uint]*models.DeliveryEvent)
			stepLatestAt[key] = make(map[uint]time.Time)
		}
		if prev, ok := stepLatest[key][row.ContactID]; !ok || prev == nil || !at.Before(stepLatestAt[key][row.ContactID]) {
			stepLatest[key][row.ContactID] = row
			stepLatestAt[key][row.ContactID] = at
		}

		// Raw delivered counts per step, cache reconciliation input.
		if row.StepID != nil && row.Kind == models.EventKindSend {
			sawSendRows[*row.StepID] = true
			if row.Status == models.DeliveryStatusSent {
				rawSent[*row.StepID]++
			}
		}
	}

	// Contact projections, stable order by contact id.
	contactIDs := make([]uint, 0, len(contacts))
	for id := range contacts {
		contactIDs = append(contactIDs, id)
	}
	sort.Slice(contactIDs, func(i, j int) bool { return contactIDs[i] < contactIDs[j] })

	for _, id := range contactIDs {
		state := contacts[id]
		cs := ContactStatus{
			ContactID:      id,
			Status:         state.latest.Status,
			ReplyAt:        state.replyAt,
			BounceAt:       state.bounceAt,
			HasReplySignal: state.replyAt != nil,
			LastActivityAt: state.lastEventAt,
		}
		if cs.Status == "" {
			cs.Status = models.DeliveryStatusPending
		}
		result.Contacts = append(result.Contacts, cs)

		result.Summary.Total++
		result.Summary.StatusCounts.add(cs.Status)
		if cs.HasReplySignal {
			result.UniqueReplyContacts = append(result.UniqueReplyContacts, id)
		}
	}
	result.Summary.ReplyCount = len(result.UniqueReplyContacts)
	result.Summary.LastActivity = lastActivity

	// Per-step breakdown: known steps in ordinal order, then steps the
	// context does not know about, then the nil-step bucket.
	known := make(map[uint]*models.SequenceStep, len(ctx.Steps))
	for i := range ctx.Steps {
		step := &ctx.Steps[i]
		known[step.ID] = step
	}

	orderedKeys := make([]stepKey, 0, len(stepLatest))
	for key := range stepLatest {
		orderedKeys = append(orderedKeys, key)
	}
	sort.Slice(orderedKeys, func(i, j int) bool {
		a, b := orderedKeys[i], orderedKeys[j]
		if a.null != b.null {
			return !a.null // nil-step bucket last
		}
		sa, oka := known[a.id]
		sb, okb := known[b.id]
		if oka && okb {
			return sa.StepNumber < sb.StepNumber
		}
		if oka != okb {
			return oka // known steps before unknown ones
		}
		return a.id < b.id
	})

	for _, key := range orderedKeys {
		breakdown := StepBreakdown{}
		if !key.null {
			id := key.id
			breakdown.StepID = &id
			if step, ok := known[id]; ok {
				subject := step.Subject
				breakdown.Subject = &subject
			}
		}
		for _, row := range stepLatest[key] {
			breakdown.Total++
			status := row.Status
			if status == "" {
				status = models.DeliveryStatusPending
			}
			breakdown.StatusCounts.add(status)
		}
		result.Steps = append(result.Steps, breakdown)
	}

	// Delivered-count map: cache-seeded, raw-reconciled. The raw count wins
	// for every step the feed has send rows for; the cache may be stale.
	for id, count := range ctx.SentPerStep {
		result.SentPerStep[id] = count
	}
	for id := range sawSendRows {
		result.SentPerStep[id] = rawSent[id]
	}

	return result
}
