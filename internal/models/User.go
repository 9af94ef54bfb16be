package models

import "gorm.io/gorm"

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
	RoleDonor = "donor"
)

// User is a staff account that can receive notifications.
type User struct {
	gorm.Model
	Name        string `json:"name"`
	Email       string `json:"email" gorm:"unique"`
	Phone       string `json:"phone"`
	Role        string `json:"role" gorm:"index"` // "admin", "staff", "donor"
	Password    string `json:"-"`                 // bcrypt hash
	NotifyEmail bool   `json:"notify_email" gorm:"default:true"`
	NotifyPush  bool   `json:"notify_push" gorm:"default:true"`

	Devices []UserDevice `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"devices,omitempty"`
}
