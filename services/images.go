package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/bookswap/models"
)

// ImageStore maps uploaded files to listings and picks the title image.
type ImageStore struct{}

// Attach inserts one UserImage per file, all pointing at listingID.
func (ImageStore) Attach(ctx context.Context, tx *gorm.DB, listingID, uploaderID uint, files []UploadedFile) ([]uint, error) {
	if len(files) == 0 {
		return nil, nil
	}
	rows := make([]models.UserImage, 0, len(files))
	for _, f := range files {
		rows = append(rows, models.UserImage{FileName: f.StoredName, ListingID: listingID, UserID: uploaderID})
	}
	if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("attach images: %w", err)
	}
	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// Detach soft-deletes images of listingID. Ids of other listings and already
// detached images are ignored, so repeating a detach changes nothing.
// Stored files stay until the sweeper purges them.
func (ImageStore) Detach(ctx context.Context, tx *gorm.DB, listingID uint, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := tx.WithContext(ctx).
		Model(&models.UserImage{}).
		Where("listing_id = ? AND id IN ? AND deleted = ?", listingID, ids, false).
		Updates(map[string]interface{}{"deleted": true, "detached_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("detach images: %w", err)
	}
	return nil
}

// SelectTitle points the listing's title_image at the file named by selector.
// New files match by original name, attached images by stored name.
// Without a match the title is left unchanged and false is returned.
func (ImageStore) SelectTitle(ctx context.Context, tx *gorm.DB, listingID uint, selector string, files []UploadedFile) (bool, error) {
	if selector == "" {
		return false, nil
	}
	stored := ""
	if f, ok := MatchTitle(files, selector); ok {
		stored = f.StoredName
	} else {
		var img models.UserImage
		err := tx.WithContext(ctx).
			Where("listing_id = ? AND file_name = ? AND deleted = ?", listingID, selector, false).
			First(&img).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("look up title image: %w", err)
		}
		stored = img.FileName
	}
	if err := tx.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", listingID).
		Update("title_image", stored).Error; err != nil {
		return false, fmt.Errorf("set title image: %w", err)
	}
	return true, nil
}

// EnsureTitle keeps the title invariant after a reconcile: the listing must
// keep at least one image, and a title that was detached moves to the oldest remaining one.
func (ImageStore) EnsureTitle(ctx context.Context, tx *gorm.DB, listingID uint) error {
	var listing models.Listing
	if err := tx.WithContext(ctx).Select("id", "title_image").First(&listing, listingID).Error; err != nil {
		return fmt.Errorf("load listing title: %w", err)
	}
	var images []models.UserImage
	if err := tx.WithContext(ctx).
		Where("listing_id = ? AND deleted = ?", listingID, false).
		Order("id ASC").
		Find(&images).Error; err != nil {
		return fmt.Errorf("load listing images: %w", err)
	}
	if len(images) == 0 {
		return invalid("images", "a listing needs at least one image")
	}
	for _, img := range images {
		if img.FileName == listing.TitleImage {
			return nil
		}
	}
	if err := tx.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", listingID).
		Update("title_image", images[0].FileName).Error; err != nil {
		return fmt.Errorf("reassign title image: %w", err)
	}
	return nil
}

// MatchTitle finds the file whose original name equals selector.
func MatchTitle(files []UploadedFile, selector string) (UploadedFile, bool) {
	for _, f := range files {
		if f.OriginalName == selector {
			return f, true
		}
	}
	return UploadedFile{}, false
}
