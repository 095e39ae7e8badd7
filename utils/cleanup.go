package utils

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/bookswap/models"
	"github.com/cppla/bookswap/storage"
)

const sweepBatch = 100

// StartImageSweeper periodically purges files of images detached longer than retention.
// It is best-effort: failures are logged and retried on the next round. It stops with ctx.
func StartImageSweeper(ctx context.Context, db *gorm.DB, files storage.FileStore, interval, retention time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			n, err := SweepDetachedImages(ctx, db, files, time.Now().Add(-retention))
			if err != nil {
				L().Sugar().Warnf("image sweeper round failed: %v", err)
				continue
			}
			if n > 0 {
				L().Sugar().Infof("image sweeper purged %d files", n)
			}
		}
	}()
}

// SweepDetachedImages deletes the stored bytes of images detached before cutoff and stamps purged_at.
// A row is stamped only once its file is gone, so a failed delete is retried later.
func SweepDetachedImages(ctx context.Context, db *gorm.DB, files storage.FileStore, cutoff time.Time) (int, error) {
	var items []models.UserImage
	if err := db.WithContext(ctx).
		Where("deleted = ? AND detached_at <= ? AND purged_at IS NULL", true, cutoff).
		Order("id").
		Limit(sweepBatch).
		Find(&items).Error; err != nil {
		return 0, err
	}
	purged := 0
	for _, it := range items {
		if err := files.Delete(ctx, it.FileName); err != nil {
			L().Sugar().Warnf("image sweeper delete file=%s err=%v", it.FileName, err)
			continue
		}
		if err := db.WithContext(ctx).Model(&models.UserImage{}).
			Where("id = ?", it.ID).
			Update("purged_at", time.Now()).Error; err != nil {
			L().Sugar().Warnf("image sweeper mark purged id=%d err=%v", it.ID, err)
			continue
		}
		purged++
	}
	return purged, nil
}
