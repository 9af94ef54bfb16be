package models

import (
	"time"

	"gorm.io/gorm"
)

// UserDevice is a push-capable endpoint registered by a user.
type UserDevice struct {
	gorm.Model
	UserID      uint      `json:"user_id" gorm:"index"`
	DeviceToken string    `json:"device_token" gorm:"uniqueIndex;size:255"`
	DeviceType  string    `json:"device_type"` // "android", "ios", "web"
	LastSeen    time.Time `json:"last_seen"`
}
