package models

import (
	"time"

	"gorm.io/gorm"
)

// Position is one reported location for a child. Rows are append-only.
type Position struct {
	gorm.Model
	ChildID          uint      `json:"child_id" gorm:"index:idx_positions_child_time"`
	WearableID       *uint     `json:"wearable_id,omitempty"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Timestamp        time.Time `json:"timestamp" gorm:"index:idx_positions_child_time"`
	Source           string    `json:"source"`             // "manual", "simulated", "wearable", "mqtt"
	IsUnusual        bool      `json:"is_unusual"`         // flagged by staff or an upstream system
	DistanceFromLast float64   `json:"distance_from_last"` // meters from the previous position
	SpeedKmh         float64   `json:"speed_kmh"`
}
