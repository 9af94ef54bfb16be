package models

import (
	"time"

	"gorm.io/gorm"
)

// WearableDevice reports positions and health telemetry for one child.
type WearableDevice struct {
	gorm.Model
	ChildID        uint       `json:"child_id" gorm:"index"`
	DeviceID       string     `json:"device_id" gorm:"uniqueIndex;size:100"`
	Description    string     `json:"description"`
	IsActive       bool       `json:"is_active" gorm:"default:true"`
	LastSeen       *time.Time `json:"last_seen"`
	SignalStrength float64    `json:"signal_strength"` // normalized 0..1
	BatteryLevel   float64    `json:"battery_level"`   // percent
	WasReset       bool       `json:"was_reset"`
	SecretHash     string     `json:"-"`
}
