package models

import "time"

// ListingType tells whether the poster offers or looks for an item.
type ListingType string

const (
	ListingOffer  ListingType = "offer"
	ListingDemand ListingType = "demand"
)

// Valid reports whether t is a known listing type.
func (t ListingType) Valid() bool {
	return t == ListingOffer || t == ListingDemand
}

// ListingStatus is the visibility state chosen by the poster.
type ListingStatus string

const (
	StatusActive   ListingStatus = "active"
	StatusInactive ListingStatus = "inactive"
	StatusOther    ListingStatus = "other"
)

// Valid reports whether s is a known listing status.
func (s ListingStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusOther:
		return true
	}
	return false
}

// Listing is a marketplace post. Price is stored in minor currency units.
// TitleImage holds the stored file name of one of the listing's images.
type Listing struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	Name        string        `gorm:"size:50;not null" json:"name"`
	Description string        `gorm:"size:1000;not null" json:"description"`
	Price       int64         `gorm:"not null" json:"price"`
	Type        ListingType   `gorm:"size:16;not null" json:"type"`
	Status      ListingStatus `gorm:"size:16;not null;default:'active'" json:"status"`
	TitleImage  string        `gorm:"size:512;not null" json:"title_image"`
	PosterID    uint          `gorm:"index;not null" json:"poster_id"`
	Deleted     bool          `gorm:"index;not null;default:false" json:"-"`
	Added       time.Time     `gorm:"autoCreateTime" json:"added"`
	Edited      time.Time     `gorm:"autoUpdateTime;index" json:"edited"`
	Poster      User          `gorm:"foreignKey:PosterID" json:"user"`
	Tags        []Tag         `gorm:"many2many:listing_tags;" json:"tags"`
	Images      []UserImage   `gorm:"foreignKey:ListingID" json:"images"`
}
