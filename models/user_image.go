package models

import "time"

// UserImage records an uploaded file attached to a listing.
// Rows are never removed: Deleted hides them from listing reads, PurgedAt marks that the sweeper removed the file.
type UserImage struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	FileName   string     `gorm:"size:512;not null;index" json:"file_name"`
	ListingID  uint       `gorm:"index;not null" json:"listing_id"`
	UserID     uint       `gorm:"index;not null" json:"user_id"`
	Deleted    bool       `gorm:"not null;default:false" json:"-"`
	DetachedAt *time.Time `gorm:"index" json:"-"`
	PurgedAt   *time.Time `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}
