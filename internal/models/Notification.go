package models

import "gorm.io/gorm"

// Notification is an in-app message for a user.
type Notification struct {
	gorm.Model
	UserID  uint   `json:"user_id" gorm:"index"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	IsRead  bool   `json:"is_read"`
}
