package models

import "gorm.io/gorm"

// Contact represents an outreach recipient
type Contact struct {
	gorm.Model
	WorkspaceID uint `gorm:"not null;index" json:"workspace_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`

	// IANA zone name, e.g. "America/New_York"; empty when unknown
	Timezone string `json:"timezone"`

	// Suppression flags
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`

	// Relations
	Enrollments []SequenceEnrollment `gorm:"foreignKey:ContactID" json:"enrollments,omitempty"`
}
