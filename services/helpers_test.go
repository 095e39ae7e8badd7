package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/bookswap/config"
	"github.com/cppla/bookswap/models"
	"github.com/cppla/bookswap/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []ListingEvent
}

func (p *recordingPublisher) PublishListingEvent(_ context.Context, event ListingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]EventKind, 0, len(p.events))
	for _, e := range p.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type testEnv struct {
	db     *gorm.DB
	files  *storage.LocalStore
	events *recordingPublisher
	coord  *Coordinator
	ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := config.OpenDatabase(config.AppConfig{
		DBDriver: "sqlite",
		DBName:   filepath.Join(dir, "listings.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	files, err := storage.NewLocalStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	events := &recordingPublisher{}
	return &testEnv{
		db:     db,
		files:  files,
		events: events,
		coord:  NewCoordinator(db, files, DefaultLimits(), zap.NewNop(), events),
		ctx:    context.Background(),
	}
}

func (e *testEnv) user(t *testing.T, name string) uint {
	t.Helper()
	u := models.User{Email: strings.ToLower(name) + "@example.com", FirstName: name}
	require.NoError(t, e.db.Create(&u).Error)
	return u.ID
}

func (e *testEnv) tag(t *testing.T, text string, timesUsed int64) uint {
	t.Helper()
	tag := models.Tag{Text: text, TimesUsed: timesUsed}
	require.NoError(t, e.db.Create(&tag).Error)
	return tag.ID
}

func (e *testEnv) timesUsed(t *testing.T, id uint) int64 {
	t.Helper()
	var tag models.Tag
	require.NoError(t, e.db.First(&tag, id).Error)
	return tag.TimesUsed
}

// upload stores a file the way the upload handler does and returns its record.
func (e *testEnv) upload(t *testing.T, userID uint, original string) UploadedFile {
	t.Helper()
	name := storage.UniqueName(userID, original)
	body := fmt.Sprintf("image bytes of %s", original)
	require.NoError(t, e.files.Save(e.ctx, name, strings.NewReader(body), int64(len(body)), "image/jpeg"))
	return UploadedFile{StoredName: name, OriginalName: original, MimeType: "image/jpeg", SizeBytes: int64(len(body))}
}

func (e *testEnv) stored(t *testing.T, name string) bool {
	t.Helper()
	rc, err := e.files.Open(e.ctx, name)
	if err != nil {
		require.ErrorIs(t, err, storage.ErrNotFound)
		return false
	}
	_ = rc.Close()
	return true
}

func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, e.coord.Drain(e.ctx))
}

func (e *testEnv) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Count(&n).Error)
	return n
}

// listing creates a valid listing for userID with the given new tag texts and image names.
func (e *testEnv) listing(t *testing.T, userID uint, tags []string, images ...string) *models.Listing {
	t.Helper()
	if len(images) == 0 {
		images = []string{"cover.jpg"}
	}
	req := CreateListingRequest{
		RequesterID: userID,
		Name:        "Refactoring",
		Description: "second edition",
		Price:       1200,
		Type:        models.ListingOffer,
		TitleImage:  images[0],
	}
	for _, text := range tags {
		req.NewTags = append(req.NewTags, NewTagText{Text: text})
	}
	for _, img := range images {
		req.Files = append(req.Files, e.upload(t, userID, img))
	}
	listing, err := e.coord.CreateListing(e.ctx, req)
	require.NoError(t, err)
	return listing
}

func listingTagIDs(l *models.Listing) []uint {
	ids := make([]uint, 0, len(l.Tags))
	for _, tag := range l.Tags {
		ids = append(ids, tag.ID)
	}
	return ids
}

func ptr[T any](v T) *T {
	return &v
}
