package models

// Tag is a label shared by many listings. TimesUsed is a popularity counter:
// it only grows, soft-deleting a listing does not give the count back.
type Tag struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Text      string `gorm:"size:15;not null;index" json:"text"`
	CreatorID *uint  `gorm:"index" json:"creator_id"`
	TimesUsed int64  `gorm:"not null;default:0" json:"times_used"`
}

// ListingTag pairs a listing with a tag. The composite key keeps each pair unique.
type ListingTag struct {
	ListingID uint `gorm:"primaryKey;autoIncrement:false"`
	TagID     uint `gorm:"primaryKey;autoIncrement:false"`
}

// TableName 指定关联表名
func (ListingTag) TableName() string {
	return "listing_tags"
}
