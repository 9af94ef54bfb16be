package models

import (
	"time"

	"gorm.io/gorm"
)

// Child is a tracked entity.
type Child struct {
	gorm.Model
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	UniqueIdentifier string     `json:"unique_identifier" gorm:"uniqueIndex;size:20"`
	DateOfBirth      time.Time  `json:"date_of_birth"`
	EnrollmentDate   time.Time  `json:"enrollment_date"`
	IsActive         bool       `json:"is_active" gorm:"default:true"`
	LastAnomalyCheck *time.Time `json:"last_anomaly_check"`

	Trackings []Tracking       `gorm:"foreignKey:ChildID;constraint:OnDelete:CASCADE;" json:"-"`
	Wearables []WearableDevice `gorm:"foreignKey:ChildID;constraint:OnDelete:CASCADE;" json:"wearables,omitempty"`
}

// FullName returns "First Last".
func (c Child) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// AgeAt returns the child's age in whole years, or 0 when the birth date is unknown.
func (c Child) AgeAt(now time.Time) int {
	if c.DateOfBirth.IsZero() || now.Before(c.DateOfBirth) {
		return 0
	}
	years := now.Year() - c.DateOfBirth.Year()
	if now.YearDay() < c.DateOfBirth.YearDay() {
		years--
	}
	return years
}
