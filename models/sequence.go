package models

import (
	"time"

	"gorm.io/gorm"
)

// Sequence lifecycle statuses
const (
	SequenceStatusDraft  = "draft"
	SequenceStatusActive = "active"
	SequenceStatusPaused = "paused"
)

// Timing policy modes
const (
	TimingModeImmediate = "immediate"
	TimingModeFixed     = "fixed"
	TimingModeWindow    = "window"
)

// SendWindow is one daily time range, wall-clock "HH:MM" bounds
type SendWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Sequence represents a multi-step outreach campaign
type Sequence struct {
	gorm.Model
	WorkspaceID uint  `gorm:"not null;index" json:"workspace_id"`
	SenderID    *uint `gorm:"index" json:"sender_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused

	// Activation
	LaunchAt   *time.Time `json:"launch_at"`   // Optional future activation
	LaunchedAt *time.Time `json:"launched_at"` // Recorded at launch

	// ========= Timing policy =========
	TimingMode  string `gorm:"default:'immediate'" json:"timing_mode"` // immediate, fixed, window
	SendAt      string `json:"send_at"`                                // "HH:MM" daily send time (fixed mode)
	WindowStart string `json:"window_start"`                           // Primary window (window mode)
	WindowEnd   string `json:"window_end"`

	ExtraWindows []SendWindow   `gorm:"type:jsonb;serializer:json" json:"extra_windows"`
	SendDays     []time.Weekday `gorm:"type:jsonb;serializer:json" json:"send_days"` // Allow-list; empty = every day

	RespectContactTimezone bool   `gorm:"default:true" json:"respect_contact_timezone"`
	FallbackTimezone       string `gorm:"default:'UTC'" json:"fallback_timezone"`

	// Minimum-gap override in minutes; nil falls back to the workspace default
	SendGapMinutes *int `json:"send_gap_minutes"`

	// Statistics (denormalized for performance)
	TotalEnrolled int `gorm:"default:0" json:"total_enrolled"`
	SentCount     int `gorm:"default:0" json:"sent_count"`
	ReplyCount    int `gorm:"default:0" json:"reply_count"`
	BounceCount   int `gorm:"default:0" json:"bounce_count"`

	// Relations
	Sender      *Sender              `json:"-"`
	Steps       []SequenceStep       `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []SequenceEnrollment `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
}

// SequenceStep represents one touchpoint in a sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber int    `gorm:"not null" json:"step_number"` // 1-based, contiguous within a sequence
	Subject    string `json:"subject"`
	Body       string `json:"body"`

	DelayHours int `gorm:"not null;default:0" json:"delay_hours"` // Delay from previous step

	// Behavioral flags
	SkipIfReplied   bool `gorm:"default:false" json:"skip_if_replied"`
	SkipIfBounced   bool `gorm:"default:true" json:"skip_if_bounced"`
	ReplyDelayHours *int `json:"reply_delay_hours"` // Push send back this long after a reply instead of skipping

	// Tracking (materialized cache, reconciled against the raw event feed)
	SentCount int `gorm:"default:0" json:"sent_count"`
}

// Delay returns the step's delay-from-previous as a duration
func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayHours) * time.Hour
}

// HasContent reports whether the step carries sendable content
func (s *SequenceStep) HasContent() bool {
	return s.Subject != "" || s.Body != ""
}
