package models

import "gorm.io/gorm"

// SafeZone is the administrator-managed center geofence. Exactly one row is expected.
type SafeZone struct {
	gorm.Model
	Name             string  `json:"name" gorm:"default:'Main Center'"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	SafeRadiusMeters float64 `json:"safe_radius_meters" gorm:"default:100"`
	Version          int64   `json:"version"`
}
