package models

import (
	"time"

	"gorm.io/gorm"
)

// Enrollment delivery statuses
const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSent    = "sent"
	DeliveryStatusReplied = "replied"
	DeliveryStatusBounced = "bounced"
	DeliveryStatusFailed  = "failed"
	DeliveryStatusSkipped = "skipped"
)

// SequenceEnrollment tracks one contact's progress through one sequence
type SequenceEnrollment struct {
	gorm.Model
	SequenceID uint `gorm:"not null;uniqueIndex:idx_sequence_contact" json:"sequence_id"`
	ContactID  uint `gorm:"not null;uniqueIndex:idx_sequence_contact" json:"contact_id"`

	CurrentStep int    `gorm:"default:1" json:"current_step"` // 1-based step pointer
	Status      string `gorm:"default:'pending'" json:"status"`

	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at"` // Next eligible send time
	SentAt      *time.Time `json:"sent_at"`
	Attempts    int        `gorm:"default:0" json:"attempts"`

	// Side-channel signals, settable independently of Status. A contact can
	// be "sent" for delivery purposes while carrying a ReplyAt from a later
	// inbound message.
	ReplyAt   *time.Time `json:"reply_at"`
	BounceAt  *time.Time `json:"bounce_at"`
	SkippedAt *time.Time `json:"skipped_at"`

	// Contact timezone snapshot taken at enrollment; empty when unknown
	Timezone string `json:"timezone"`

	// Diagnostic: when this contact was last delayed purely by the min-gap rule
	LastThrottleAt *time.Time `json:"last_throttle_at"`

	// Manual-send markers let an operator override automatic scheduling once
	ManualTriggeredAt *time.Time `json:"manual_triggered_at"`
	ManualSentAt      *time.Time `json:"manual_sent_at"`

	// Relations
	Sequence Sequence `json:"-"`
	Contact  Contact  `json:"-"`
}
