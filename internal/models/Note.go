package models

import "gorm.io/gorm"

// Note is a free-text case note written by staff.
type Note struct {
	gorm.Model
	ChildID uint   `json:"child_id" gorm:"index"`
	Content string `json:"content"`
	// SentimentScore is a normalized polarity in 0..1 when an upstream system provided one.
	SentimentScore *float64 `json:"sentiment_score"`
}
