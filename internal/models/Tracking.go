package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	StatusInCenter    = "in_center"
	StatusOffPremises = "off_premises"
	StatusEscaped     = "escaped"
	StatusUnknown     = "unknown"
)

// ValidStatus reports whether s is one of the four whereabouts states.
func ValidStatus(s string) bool {
	switch s {
	case StatusInCenter, StatusOffPremises, StatusEscaped, StatusUnknown:
		return true
	}
	return false
}

// Tracking records a child's whereabouts status. A new row is appended on every
// status change; the latest row by LastUpdate defines the current status.
type Tracking struct {
	gorm.Model
	ChildID           uint       `json:"child_id" gorm:"index:idx_trackings_child_update"`
	Status            string     `json:"status" gorm:"default:in_center;index"`
	LastKnownLocation string     `json:"last_known_location"` // "lat,lon"
	LastSeen          time.Time  `json:"last_seen"`
	LastUpdate        time.Time  `json:"last_update" gorm:"index:idx_trackings_child_update"`
	ReportedByID      *uint      `json:"reported_by_id"`
	Notes             string     `json:"notes"`
	EscapeNotifiedAt  *time.Time `json:"escape_notified_at"`
	ZoneVersion       int64      `json:"zone_version"`
}
