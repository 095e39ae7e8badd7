package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/bookswap/models"
)

const (
	// MaxNameLength bounds listing names in characters.
	MaxNameLength = 50
	// MaxDescriptionLength bounds listing descriptions in characters.
	MaxDescriptionLength = 1000
	// PageSize is the number of listings per public page.
	PageSize = 20
	// MaxFilterTags caps the tag ids of one filter query.
	MaxFilterTags = 5
)

// ListingRecord owns listing rows and their tag pairs.
type ListingRecord struct{}

// Create inserts the listing row only; tags and images are written by the caller.
func (ListingRecord) Create(ctx context.Context, tx *gorm.DB, listing *models.Listing) error {
	if listing.Status == "" {
		listing.Status = models.StatusActive
	}
	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(listing).Error; err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// Update applies the non-nil fields of patch and bumps edited.
// id and poster_id are not part of the patch and never change.
func (ListingRecord) Update(ctx context.Context, tx *gorm.DB, id uint, patch ListingPatch) error {
	updates := map[string]interface{}{"edited": time.Now()}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Price != nil {
		updates["price"] = *patch.Price
	}
	if patch.Type != nil {
		updates["type"] = *patch.Type
	}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if err := tx.WithContext(ctx).Model(&models.Listing{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	return nil
}

// AssertOwnership loads the listing with a row lock and checks its poster.
// Missing and soft-deleted listings give ErrNotFound, another poster gives ErrForbidden.
func (ListingRecord) AssertOwnership(ctx context.Context, tx *gorm.DB, id, userID uint) (*models.Listing, error) {
	var listing models.Listing
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND deleted = ?", id, false).
		First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("listing %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	if listing.PosterID != userID {
		return nil, fmt.Errorf("listing %d: %w", id, ErrForbidden)
	}
	return &listing, nil
}

// SoftDelete hides the listing. Tag counters and image rows are left as they are.
func (ListingRecord) SoftDelete(ctx context.Context, tx *gorm.DB, id uint) error {
	if err := tx.WithContext(ctx).Model(&models.Listing{}).Where("id = ?", id).Update("deleted", true).Error; err != nil {
		return fmt.Errorf("soft delete listing: %w", err)
	}
	return nil
}

// SetStatus changes only the status column.
func (ListingRecord) SetStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ListingStatus) error {
	if err := tx.WithContext(ctx).Model(&models.Listing{}).Where("id = ?", id).Update("status", status).Error; err != nil {
		return fmt.Errorf("set listing status: %w", err)
	}
	return nil
}

// PairTags links tag ids to the listing. Existing pairs are kept as they are.
func (ListingRecord) PairTags(ctx context.Context, tx *gorm.DB, id uint, tagIDs []uint) error {
	if len(tagIDs) == 0 {
		return nil
	}
	pairs := make([]models.ListingTag, 0, len(tagIDs))
	for _, t := range tagIDs {
		pairs = append(pairs, models.ListingTag{ListingID: id, TagID: t})
	}
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&pairs).Error; err != nil {
		return fmt.Errorf("pair tags: %w", err)
	}
	return nil
}

// UnpairTags removes tag pairs of the listing. Missing pairs are ignored.
func (ListingRecord) UnpairTags(ctx context.Context, tx *gorm.DB, id uint, tagIDs []uint) error {
	if len(tagIDs) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).
		Where("listing_id = ? AND tag_id IN ?", id, tagIDs).
		Delete(&models.ListingTag{}).Error; err != nil {
		return fmt.Errorf("unpair tags: %w", err)
	}
	return nil
}

// TagIDs lists the tags currently paired with the listing.
func (ListingRecord) TagIDs(ctx context.Context, tx *gorm.DB, id uint) ([]uint, error) {
	var ids []uint
	if err := tx.WithContext(ctx).Model(&models.ListingTag{}).Where("listing_id = ?", id).Pluck("tag_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load listing tags: %w", err)
	}
	return ids, nil
}

// Get returns the fully joined listing: tags, non-deleted images and poster.
func (ListingRecord) Get(ctx context.Context, db *gorm.DB, id uint) (*models.Listing, error) {
	var listing models.Listing
	err := withGraph(db.WithContext(ctx)).Where("id = ? AND deleted = ?", id, false).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("listing %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	return &listing, nil
}

// ListRecent returns one page (0-based) of visible listings, most recently edited first.
func (ListingRecord) ListRecent(ctx context.Context, db *gorm.DB, page int) ([]models.Listing, error) {
	listings := []models.Listing{}
	err := withGraph(db.WithContext(ctx)).
		Where("deleted = ? AND status <> ?", false, models.StatusInactive).
		Order("edited DESC").Order("id DESC").
		Offset(page * PageSize).
		Limit(PageSize).
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("list recent listings: %w", err)
	}
	return listings, nil
}

// Filter searches non-deleted listings. Tag ids match listings carrying any of them.
func (ListingRecord) Filter(ctx context.Context, db *gorm.DB, f ListingFilter) ([]models.Listing, error) {
	q := withGraph(db.WithContext(ctx)).Where("deleted = ?", false)
	if name := strings.TrimSpace(f.Name); name != "" {
		q = q.Where("LOWER(name) LIKE ? ESCAPE '!'", "%"+escapeLike(strings.ToLower(name))+"%")
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.MinPrice != nil {
		q = q.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("price <= ?", *f.MaxPrice)
	}
	if len(f.TagIDs) > 0 {
		sub := db.Model(&models.ListingTag{}).Select("listing_id").Where("tag_id IN ?", f.TagIDs)
		q = q.Where("id IN (?)", sub)
	}
	listings := []models.Listing{}
	if err := q.Order("edited DESC").Order("id DESC").Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("filter listings: %w", err)
	}
	return listings, nil
}

// ListByPoster returns the poster's non-deleted listings, most recently edited first.
func (ListingRecord) ListByPoster(ctx context.Context, db *gorm.DB, posterID uint) ([]models.Listing, error) {
	listings := []models.Listing{}
	err := withGraph(db.WithContext(ctx)).
		Where("poster_id = ? AND deleted = ?", posterID, false).
		Order("edited DESC").Order("id DESC").
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("list poster listings: %w", err)
	}
	return listings, nil
}

func withGraph(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Poster").
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tags.id ASC") }).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Where("deleted = ?", false).Order("id ASC") })
}
