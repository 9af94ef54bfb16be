package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// RiskAssessment is one scoring run for a child. The latest row is authoritative.
type RiskAssessment struct {
	gorm.Model
	ChildID       uint           `json:"child_id" gorm:"index:idx_risk_child_time"`
	Score         int            `json:"score"`
	Factors       pq.StringArray `json:"factors" gorm:"type:text[]"`
	LowConfidence bool           `json:"low_confidence"`
	ModelVersion  string         `json:"model_version"`
	Timestamp     time.Time      `json:"timestamp" gorm:"index:idx_risk_child_time"`
}
