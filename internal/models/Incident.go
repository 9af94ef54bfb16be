package models

import (
	"time"

	"gorm.io/gorm"
)

// Incident is a recorded behavioral or safety incident.
type Incident struct {
	gorm.Model
	ChildID     uint      `json:"child_id" gorm:"index"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
}
