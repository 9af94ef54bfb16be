package models

import (
	"time"

	"gorm.io/gorm"
)

// Anomaly is a persisted finding from the rule engine. Never updated.
type Anomaly struct {
	gorm.Model
	ChildID     uint      `json:"child_id" gorm:"index"`
	AnomalyType string    `json:"anomaly_type"` // "location", "activity", "device", "note"
	Rule        string    `json:"rule"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"` // "low", "medium", "high"
	Timestamp   time.Time `json:"timestamp"`
}
