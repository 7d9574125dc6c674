package models

import "gorm.io/gorm"

// Workspace groups senders, contacts and sequences under one account
type Workspace struct {
	gorm.Model
	Name string `gorm:"not null" json:"name"`

	// Sending policy
	SendGapMinutes int `gorm:"default:5" json:"send_gap_minutes"` // Minimum gap between sends per sender
	DailySendLimit int `gorm:"default:500" json:"daily_send_limit"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relations
	Senders   []Sender   `gorm:"foreignKey:WorkspaceID" json:"senders,omitempty"`
	Sequences []Sequence `gorm:"foreignKey:WorkspaceID" json:"sequences,omitempty"`
}

// CreateDefaultWorkspace seeds a workspace for fresh installs
func CreateDefaultWorkspace(db *gorm.DB) error {
	workspace := Workspace{
		Name:           "default",
		SendGapMinutes: 5,
		DailySendLimit: 500,
		IsActive:       true,
	}
	return db.FirstOrCreate(&workspace, "name = ?", workspace.Name).Error
}
