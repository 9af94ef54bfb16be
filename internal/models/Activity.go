package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ActivityScheduled = "scheduled"
	ActivityCompleted = "completed"
	ActivityMissed    = "missed"
)

// Activity is a scheduled daily activity and its outcome.
type Activity struct {
	gorm.Model
	ChildID        uint      `json:"child_id" gorm:"index"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`          // "scheduled", "completed", "missed"
	CompletionTime *float64  `json:"completion_time"` // minutes
	Timestamp      time.Time `json:"timestamp" gorm:"index"`
}
