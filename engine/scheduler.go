package engine

import (
	"sort"
	"time"

	"outreachly/models"
)

// DefaultSendGapMinutes is the workspace-wide fallback minimum gap between
// two sends from the same sender.
const DefaultSendGapMinutes = 5

// ScheduleResult is the outcome of one scheduling evaluation. Exactly one of
// the two shapes holds: a concrete ScheduledAt, or Skipped with a reason.
// Every evaluation yields one of them; a contact is never silently dropped.
type ScheduleResult struct {
	ScheduledAt *time.Time `json:"scheduled_at"`

	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skip_reason,omitempty"` // draft, paused, reply_stop, bounce_policy

	// Deferral diagnostics for a concrete schedule
	DeferralReason string        `json:"deferral_reason,omitempty"` // outside_window, reply_delay
	RescheduledFor *time.Time    `json:"rescheduled_for,omitempty"` // Set for reply_delay
	ThrottleDelay  time.Duration `json:"throttle_delay,omitempty"`  // > 0 when the min-gap rule pushed the send
}

// Scheduler computes next send times for enrolled contacts. Pure over its
// inputs apart from the throttle gate, which serializes per-sender slot
// reservations.
type Scheduler struct {
	Throttle *ThrottleGate
}

func NewScheduler(gate *ThrottleGate) *Scheduler {
	return &Scheduler{Throttle: gate}
}

// EffectiveGap resolves the minimum send gap: sequence override, else the
// workspace default, else DefaultSendGapMinutes.
func EffectiveGap(seq *models.Sequence, workspaceGapMinutes int) time.Duration {
	if seq.SendGapMinutes != nil {
		return time.Duration(*seq.SendGapMinutes) * time.Minute
	}
	if workspaceGapMinutes > 0 {
		return time.Duration(workspaceGapMinutes) * time.Minute
	}
	return DefaultSendGapMinutes * time.Minute
}

// ComputeNextSend decides when the enrollment's current step should go out,
// or why it should not. The policy passes run in order: lifecycle gate,
// base time, reply/bounce gating, fixed/window adjustment, throttle.
func (s *Scheduler) ComputeNextSend(seq *models.Sequence, enr *models.SequenceEnrollment, step *models.SequenceStep, workspaceGapMinutes int, now time.Time) (*ScheduleResult, error) {
	// Lifecycle gate: only active sequences schedule anything.
	switch seq.Status {
	case models.SequenceStatusActive:
	case models.SequenceStatusDraft:
		return &ScheduleResult{Skipped: true, SkipReason: models.SkipReasonDraft}, nil
	default:
		return &ScheduleResult{Skipped: true, SkipReason: models.SkipReasonPaused}, nil
	}

	// Base time: previous-step completion (or enrollment time) plus the
	// step's delay, never in the past.
	prev := enr.CreatedAt
	if enr.SentAt != nil && enr.SentAt.After(prev) {
		prev = *enr.SentAt
	}
	base := now
	if prev.After(base) {
		base = prev
	}
	candidate := base.Add(step.Delay())

	result := &ScheduleResult{}

	// Reply/bounce gating runs before the window pass, so a reply-delayed
	// candidate is still folded into the policy's allowed hours.
	if step.SkipIfBounced && enr.BounceAt != nil {
		return &ScheduleResult{Skipped: true, SkipReason: models.SkipReasonBouncePolicy}, nil
	}
	if enr.ReplyAt != nil {
		if step.SkipIfReplied && enr.ReplyAt.Before(candidate) {
			return &ScheduleResult{Skipped: true, SkipReason: models.SkipReasonReplyStop}, nil
		}
		if step.ReplyDelayHours != nil {
			delayed := enr.ReplyAt.Add(time.Duration(*step.ReplyDelayHours) * time.Hour)
			if delayed.After(candidate) {
				candidate = delayed
			}
			result.DeferralReason = models.SkipReasonReplyDelay
			resched := candidate
			result.RescheduledFor = &resched
		}
	}

	// Policy adjustment derives a wall-clock target for fixed/window modes;
	// immediate uses the candidate as-is.
	loc, err := s.policyLocation(seq, enr)
	if err != nil {
		return nil, err
	}

	switch seq.TimingMode {
	case models.TimingModeFixed:
		adjusted, err := nextFixedOccurrence(candidate, loc, seq.SendAt)
		if err != nil {
			return nil, err
		}
		candidate = adjusted
	case models.TimingModeWindow:
		adjusted, moved, err := nextWindowOccurrence(candidate, loc, seq)
		if err != nil {
			return nil, err
		}
		if moved && result.DeferralReason == "" {
			result.DeferralReason = models.SkipReasonOutsideWindow
		}
		candidate = adjusted
	}

	// Monotonicity: a recomputation never moves an already persisted
	// schedule earlier, unless an explicit reschedule reason applies.
	if enr.ScheduledAt != nil && candidate.Before(*enr.ScheduledAt) &&
		result.DeferralReason != models.SkipReasonReplyDelay {
		candidate = *enr.ScheduledAt
	}

	// Throttle pass: atomic check-and-reserve against the sender's most
	// recent send.
	if seq.SenderID != nil && s.Throttle != nil {
		gap := EffectiveGap(seq, workspaceGapMinutes)
		granted, delay := s.Throttle.ReserveSendSlot(*seq.SenderID, candidate, gap)
		candidate = granted
		result.ThrottleDelay = delay
	}

	scheduled := candidate
	result.ScheduledAt = &scheduled
	return result, nil
}

// policyLocation picks the zone used to derive wall-clock targets: the
// contact's when the policy respects it, else the sequence fallback.
func (s *Scheduler) policyLocation(seq *models.Sequence, enr *models.SequenceEnrollment) (*time.Location, error) {
	if seq.RespectContactTimezone && enr.Timezone != "" {
		if loc, err := time.LoadLocation(enr.Timezone); err == nil {
			return loc, nil
		}
		// An unknown contact zone is stale data, not a configuration
		// error; fall through to the sequence zone.
	}
	if seq.FallbackTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(seq.FallbackTimezone)
	if err != nil {
		return nil, &ConfigurationError{Field: "fallback_timezone", Reason: err.Error()}
	}
	return loc, nil
}

// parseClock parses a "HH:MM" wall-clock value into minutes past midnight
func parseClock(field, value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, &ConfigurationError{Field: field, Reason: "not a HH:MM time: " + value}
	}
	return t.Hour()*60 + t.Minute(), nil
}

// nextFixedOccurrence shifts t forward to the next occurrence of the daily
// send time, interpreted in loc.
func nextFixedOccurrence(t time.Time, loc *time.Location, sendAt string) (time.Time, error) {
	mins, err := parseClock("send_at", sendAt)
	if err != nil {
		return time.Time{}, err
	}

	local := t.In(loc)
	occ := time.Date(local.Year(), local.Month(), local.Day(), mins/60, mins%60, 0, 0, loc)
	if occ.Before(local) {
		occ = time.Date(local.Year(), local.Month(), local.Day()+1, mins/60, mins%60, 0, 0, loc)
	}
	return occ, nil
}

type clockWindow struct {
	start int // minutes past midnight
	end   int
}

// policyWindows collects and validates the sequence's daily windows in
// chronological order. A window with end <= start is a fatal configuration
// error; validation normally rejects it long before scheduling.
func policyWindows(seq *models.Sequence) ([]clockWindow, error) {
	raw := []models.SendWindow{{Start: seq.WindowStart, End: seq.WindowEnd}}
	raw = append(raw, seq.ExtraWindows...)

	windows := make([]clockWindow, 0, len(raw))
	for _, w := range raw {
		start, err := parseClock("window_start", w.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseClock("window_end", w.End)
		if err != nil {
			return nil, err
		}
		if end <= start {
			return nil, &ConfigurationError{Field: "window_end", Reason: "window end must be after start"}
		}
		windows = append(windows, clockWindow{start: start, end: end})
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].start < windows[j].start })
	return windows, nil
}

func dayAllowed(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, allowed := range days {
		if allowed == d {
			return true
		}
	}
	return false
}

// nextWindowOccurrence keeps t when it already falls inside a window on an
// allowed day, otherwise advances to the start of the nearest subsequent
// window occurrence. Returns whether the candidate moved.
func nextWindowOccurrence(t time.Time, loc *time.Location, seq *models.Sequence) (time.Time, bool, error) {
	windows, err := policyWindows(seq)
	if err != nil {
		return time.Time{}, false, err
	}

	local := t.In(loc)
	for day := 0; day <= 8; day++ {
		dayStart := time.Date(local.Year(), local.Month(), local.Day()+day, 0, 0, 0, 0, loc)
		if !dayAllowed(seq.SendDays, dayStart.Weekday()) {
			continue
		}

		minuteOfDay := 0
		if day == 0 {
			minuteOfDay = local.Hour()*60 + local.Minute()
		}

		for _, w := range windows {
			if day == 0 && minuteOfDay >= w.start && minuteOfDay < w.end {
				return t, false, nil
			}
			if w.start >= minuteOfDay {
				return dayStart.Add(time.Duration(w.start) * time.Minute), true, nil
			}
		}
	}

	// Unreachable with a validated weekday allow-list; kept as a guard.
	return time.Time{}, false, &ConfigurationError{Field: "send_days", Reason: "no eligible send window within 8 days"}
}
