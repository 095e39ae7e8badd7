package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a marketplace member. Rows are created by the login flow; listings only reference them.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"size:255;uniqueIndex" json:"-"`
	FirstName string    `gorm:"size:64" json:"first_name"`
	LastName  string    `gorm:"size:64" json:"last_name"`
	ImgLink   string    `gorm:"size:512" json:"img_link"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}
