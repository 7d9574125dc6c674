package models

import (
	"time"

	"gorm.io/gorm"
)

// Delivery event kinds
const (
	EventKindSend   = "send"
	EventKindReply  = "reply"
	EventKindBounce = "bounce"
)

// Skip reasons
const (
	SkipReasonDraft         = "draft"
	SkipReasonPaused        = "paused"
	SkipReasonDeleted       = "deleted"
	SkipReasonStatusChanged = "status_changed"
	SkipReasonReplyStop     = "reply_stop"
	SkipReasonReplyDelay    = "reply_delay"
	SkipReasonBouncePolicy  = "bounce_policy"
	SkipReasonOutsideWindow = "outside_window"
)

// Delay classifications
const (
	DelayReasonMinGap = "delayed_due_to_min_gap"
)

// DeliveryEvent is an append-only record of one delivery attempt or inbound
// signal. The raw feed the aggregator reduces; enrollment fields are a
// materialized projection of these rows and can lag behind them.
type DeliveryEvent struct {
	gorm.Model
	SequenceID   uint  `gorm:"not null;index" json:"sequence_id"`
	EnrollmentID uint  `gorm:"not null;index" json:"enrollment_id"`
	ContactID    uint  `gorm:"not null;index" json:"contact_id"`
	StepID       *uint `gorm:"index" json:"step_id"` // nil when not yet associated with a step
	SenderID     *uint `json:"sender_id"`

	Kind   string `gorm:"not null" json:"kind"` // send, reply, bounce
	Status string `json:"status"`               // Resulting enrollment status

	Attempts  int    `gorm:"default:0" json:"attempts"`
	MessageID string `json:"message_id"`
	ErrorText string `json:"error_text"`

	SkipReason     string     `json:"skip_reason"`
	RescheduledFor *time.Time `json:"rescheduled_for"`

	DelayReason  string `json:"delay_reason"`
	DelaySeconds int    `gorm:"default:0" json:"delay_seconds"`

	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
}
