package utils

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/bookswap/config"
	"github.com/cppla/bookswap/models"
	"github.com/cppla/bookswap/storage"
)

func TestSweepDetachedImages(t *testing.T) {
	dir := t.TempDir()
	db, err := config.OpenDatabase(config.AppConfig{DBDriver: "sqlite", DBName: filepath.Join(dir, "sweep.db"), LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	files, err := storage.NewLocalStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	old, recent := now.Add(-48*time.Hour), now.Add(-time.Hour)
	images := []models.UserImage{
		{FileName: "1_old.png", ListingID: 1, UserID: 1, Deleted: true, DetachedAt: &old},
		{FileName: "1_recent.png", ListingID: 1, UserID: 1, Deleted: true, DetachedAt: &recent},
		{FileName: "1_live.png", ListingID: 1, UserID: 1},
	}
	for _, img := range images {
		require.NoError(t, files.Save(ctx, img.FileName, bytes.NewReader([]byte("x")), 1, "image/png"))
	}
	require.NoError(t, db.Create(&images).Error)

	n, err := SweepDetachedImages(ctx, db, files, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = files.Open(ctx, "1_old.png")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	for _, name := range []string{"1_recent.png", "1_live.png"} {
		rc, err := files.Open(ctx, name)
		require.NoError(t, err, name)
		rc.Close()
	}

	var rows int64
	require.NoError(t, db.Model(&models.UserImage{}).Count(&rows).Error)
	assert.Equal(t, int64(3), rows, "rows are kept")
	var purged models.UserImage
	require.NoError(t, db.First(&purged, images[0].ID).Error)
	assert.NotNil(t, purged.PurgedAt)

	n, err = SweepDetachedImages(ctx, db, files, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "purged rows are skipped")
}
