package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/bookswap/models"
	"github.com/cppla/bookswap/storage"
)

func TestCreateListing(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	existing := env.tag(t, "books", 4)
	cover := env.upload(t, uid, "cover.jpg")

	listing, err := env.coord.CreateListing(env.ctx, CreateListingRequest{
		RequesterID: uid,
		Name:        "Clean Code",
		Description: "like new",
		Price:       500,
		Type:        models.ListingOffer,
		Tags:        []TagRef{{ID: existing}},
		NewTags:     []NewTagText{{Text: "programming"}},
		TitleImage:  "cover.jpg",
		Files:       []UploadedFile{cover},
	})
	require.NoError(t, err)

	assert.Equal(t, "Clean Code", listing.Name)
	assert.Equal(t, int64(500), listing.Price)
	assert.Equal(t, models.StatusActive, listing.Status)
	assert.Equal(t, cover.StoredName, listing.TitleImage)
	assert.Equal(t, uid, listing.Poster.ID)
	require.Len(t, listing.Images, 1)
	assert.Equal(t, cover.StoredName, listing.Images[0].FileName)

	require.Len(t, listing.Tags, 2)
	assert.Equal(t, existing, listing.Tags[0].ID)
	assert.Equal(t, int64(5), env.timesUsed(t, existing))
	fresh := listing.Tags[1]
	assert.Equal(t, "programming", fresh.Text)
	assert.Equal(t, int64(1), fresh.TimesUsed)
	require.NotNil(t, fresh.CreatorID)
	assert.Equal(t, uid, *fresh.CreatorID)

	env.drain(t)
	assert.True(t, env.stored(t, cover.StoredName), "accepted files stay")
	assert.Equal(t, []EventKind{EventCreated}, env.events.kinds())
}

func TestCreateListing_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	a := env.tag(t, "novel", 0)
	b := env.tag(t, "classic", 2)

	created, err := env.coord.CreateListing(env.ctx, CreateListingRequest{
		RequesterID: uid,
		Name:        "Dune",
		Description: "paperback",
		Price:       900,
		Type:        models.ListingDemand,
		Tags:        []TagRef{{ID: b}, {ID: a}, {ID: b}},
		NewTags:     []NewTagText{{Text: "scifi"}},
		TitleImage:  "back.png",
		Files:       []UploadedFile{env.upload(t, uid, "front.png"), env.upload(t, uid, "back.png")},
	})
	require.NoError(t, err)

	fetched, err := env.coord.GetListing(env.ctx, created.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, listingTagIDs(created), listingTagIDs(fetched))
	assert.Len(t, fetched.Tags, 3, "duplicate ids pair once")
	assert.Equal(t, created.TitleImage, fetched.TitleImage)
	assert.True(t, strings.HasSuffix(fetched.TitleImage, "_back.png"))
	assert.Equal(t, int64(3), env.timesUsed(t, b), "duplicate ids count once")
}

func TestCreateListing_NoTitleMatch(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	file := env.upload(t, uid, "cover.jpg")

	_, err := env.coord.CreateListing(env.ctx, CreateListingRequest{
		RequesterID: uid,
		Name:        "Clean Code",
		Description: "like new",
		Price:       500,
		Type:        models.ListingOffer,
		NewTags:     []NewTagText{{Text: "programming"}},
		TitleImage:  "missing.jpg",
		Files:       []UploadedFile{file},
	})
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "titleImage", verr.Field)

	env.drain(t)
	assert.Zero(t, env.count(t, &models.Listing{}))
	assert.Zero(t, env.count(t, &models.UserImage{}))
	assert.Zero(t, env.count(t, &models.Tag{}))
	assert.False(t, env.stored(t, file.StoredName))
	assert.Empty(t, env.events.kinds())
}

func TestCreateListing_Validation(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")

	valid := func() CreateListingRequest {
		return CreateListingRequest{
			RequesterID: uid,
			Name:        "Clean Code",
			Description: "like new",
			Price:       500,
			Type:        models.ListingOffer,
			NewTags:     []NewTagText{{Text: "programming"}},
			TitleImage:  "cover.jpg",
			Files:       []UploadedFile{{StoredName: "x_cover.jpg", OriginalName: "cover.jpg"}},
		}
	}
	manyRefs := func(n int) []TagRef {
		refs := make([]TagRef, n)
		for i := range refs {
			refs[i] = TagRef{ID: uint(i + 1)}
		}
		return refs
	}
	manyTexts := func(n int) []NewTagText {
		texts := make([]NewTagText, n)
		for i := range texts {
			texts[i] = NewTagText{Text: "tag"}
		}
		return texts
	}

	cases := []struct {
		name   string
		mutate func(*CreateListingRequest)
		field  string
	}{
		{"missing requester", func(r *CreateListingRequest) { r.RequesterID = 0 }, "user"},
		{"blank name", func(r *CreateListingRequest) { r.Name = "   " }, "name"},
		{"long name", func(r *CreateListingRequest) { r.Name = strings.Repeat("a", MaxNameLength+1) }, "name"},
		{"missing description", func(r *CreateListingRequest) { r.Description = "" }, "description"},
		{"long description", func(r *CreateListingRequest) { r.Description = strings.Repeat("d", MaxDescriptionLength+1) }, "description"},
		{"negative price", func(r *CreateListingRequest) { r.Price = -1 }, "price"},
		{"unknown type", func(r *CreateListingRequest) { r.Type = "swap" }, "type"},
		{"no tags", func(r *CreateListingRequest) { r.NewTags = nil }, "tags"},
		{"too many tags", func(r *CreateListingRequest) { r.Tags = manyRefs(10) }, "tags"},
		{"too many new tags", func(r *CreateListingRequest) { r.NewTags = manyTexts(6) }, "newTags"},
		{"long tag", func(r *CreateListingRequest) { r.NewTags = []NewTagText{{Text: strings.Repeat("t", 16)}} }, "newTags"},
		{"empty tag", func(r *CreateListingRequest) { r.NewTags = []NewTagText{{Text: " "}} }, "newTags"},
		{"zero tag id", func(r *CreateListingRequest) { r.Tags = []TagRef{{ID: 0}} }, "tags"},
		{"no files", func(r *CreateListingRequest) { r.Files = nil }, "images"},
		{"no title", func(r *CreateListingRequest) { r.TitleImage = "" }, "titleImage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(&req)
			_, err := env.coord.CreateListing(env.ctx, req)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	env.drain(t)
	assert.Zero(t, env.count(t, &models.Listing{}))
	assert.Zero(t, env.count(t, &models.Tag{}))
}

func TestCreateListing_UnknownTagRollsBack(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	known := env.tag(t, "books", 1)
	file := env.upload(t, uid, "cover.jpg")

	_, err := env.coord.CreateListing(env.ctx, CreateListingRequest{
		RequesterID: uid,
		Name:        "Clean Code",
		Description: "like new",
		Price:       500,
		Type:        models.ListingOffer,
		Tags:        []TagRef{{ID: known}, {ID: 9999}},
		NewTags:     []NewTagText{{Text: "programming"}},
		TitleImage:  "cover.jpg",
		Files:       []UploadedFile{file},
	})
	require.ErrorIs(t, err, ErrValidation)

	env.drain(t)
	assert.Zero(t, env.count(t, &models.Listing{}))
	assert.Zero(t, env.count(t, &models.UserImage{}))
	assert.Zero(t, env.count(t, &models.ListingTag{}))
	assert.Equal(t, int64(1), env.count(t, &models.Tag{}), "new tag rolled back")
	assert.Equal(t, int64(1), env.timesUsed(t, known), "increment rolled back")
	assert.False(t, env.stored(t, file.StoredName))
}

func TestCreateListing_TransactionFailureCleansUp(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	known := env.tag(t, "books", 1)
	files := []UploadedFile{env.upload(t, uid, "cover.jpg"), env.upload(t, uid, "back.jpg")}

	require.NoError(t, env.db.Callback().Create().Before("gorm:create").Register("test:fail_user_images", func(tx *gorm.DB) {
		if tx.Statement.Table == "user_images" {
			_ = tx.AddError(errors.New("disk quota exceeded"))
		}
	}))

	_, err := env.coord.CreateListing(env.ctx, CreateListingRequest{
		RequesterID: uid,
		Name:        "Clean Code",
		Description: "like new",
		Price:       500,
		Type:        models.ListingOffer,
		Tags:        []TagRef{{ID: known}},
		TitleImage:  "cover.jpg",
		Files:       files,
	})
	require.ErrorIs(t, err, ErrInternal)
	assert.NotErrorIs(t, err, ErrValidation)

	env.drain(t)
	assert.Zero(t, env.count(t, &models.Listing{}))
	assert.Zero(t, env.count(t, &models.ListingTag{}))
	assert.Equal(t, int64(1), env.timesUsed(t, known))
	for _, f := range files {
		assert.False(t, env.stored(t, f.StoredName), f.StoredName)
	}
	assert.Empty(t, env.events.kinds())
}

func TestCreateListing_CanceledContextRollsBack(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	file := env.upload(t, uid, "cover.jpg")

	ctx, cancel := context.WithCancel(env.ctx)
	cancel()
	_, err := env.coord.CreateListing(ctx, CreateListingRequest{
		RequesterID: uid,
		Name:        "Clean Code",
		Description: "like new",
		Price:       500,
		Type:        models.ListingOffer,
		NewTags:     []NewTagText{{Text: "programming"}},
		TitleImage:  "cover.jpg",
		Files:       []UploadedFile{file},
	})
	require.ErrorIs(t, err, ErrInternal)

	env.drain(t)
	assert.Zero(t, env.count(t, &models.Listing{}))
	assert.Zero(t, env.count(t, &models.Tag{}))
	assert.False(t, env.stored(t, file.StoredName))
}

func TestEditListing_ForbiddenForOtherUser(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "Ann")
	other := env.user(t, "Bob")
	shared := env.tag(t, "books", 0)

	created, err := env.coord.CreateListing(env.ctx, CreateListingRequest{
		RequesterID: owner,
		Name:        "Clean Code",
		Description: "like new",
		Price:       500,
		Type:        models.ListingOffer,
		Tags:        []TagRef{{ID: shared}},
		TitleImage:  "cover.jpg",
		Files:       []UploadedFile{env.upload(t, owner, "cover.jpg")},
	})
	require.NoError(t, err)
	upload := env.upload(t, other, "mine.jpg")

	_, err = env.coord.EditListing(env.ctx, EditListingRequest{
		RequesterID: other,
		ListingID:   created.ID,
		Name:        ptr("Stolen"),
		RemovedTags: []TagRef{{ID: shared}},
		NewTags:     []NewTagText{{Text: "rare"}},
		Files:       []UploadedFile{upload},
	})
	require.ErrorIs(t, err, ErrForbidden)

	env.drain(t)
	after, err := env.coord.GetListing(env.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Clean Code", after.Name)
	assert.Equal(t, []uint{shared}, listingTagIDs(after))
	assert.Len(t, after.Images, 1)
	assert.Equal(t, int64(1), env.count(t, &models.Tag{}), "no rare tag")
	assert.Equal(t, int64(1), env.timesUsed(t, shared))
	assert.False(t, env.stored(t, upload.StoredName))
}

func TestEditListing_NotFound(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	created := env.listing(t, uid, []string{"books"})
	require.NoError(t, env.coord.DeleteListing(env.ctx, uid, created.ID))

	_, err := env.coord.EditListing(env.ctx, EditListingRequest{RequesterID: uid, ListingID: created.ID, Price: ptr(int64(1))})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.coord.EditListing(env.ctx, EditListingRequest{RequesterID: uid, ListingID: 424242, Price: ptr(int64(1))})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditListing_PartialUpdate(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	created := env.listing(t, uid, []string{"books"})

	edited, err := env.coord.EditListing(env.ctx, EditListingRequest{
		RequesterID: uid,
		ListingID:   created.ID,
		Price:       ptr(int64(750)),
		Status:      ptr(models.StatusOther),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(750), edited.Price)
	assert.Equal(t, models.StatusOther, edited.Status)
	assert.Equal(t, created.Name, edited.Name)
	assert.Equal(t, created.Description, edited.Description)
	assert.Equal(t, created.Type, edited.Type)
	assert.Equal(t, created.TitleImage, edited.TitleImage)
	assert.Equal(t, created.PosterID, edited.PosterID)
	assert.False(t, edited.Edited.Before(created.Edited))
	assert.Equal(t, []EventKind{EventCreated, EventUpdated}, env.events.kinds())
}

func TestEditListing_AssignmentWinsOverRemoval(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	created := env.listing(t, uid, []string{"books", "paper"})
	books, paper := created.Tags[0].ID, created.Tags[1].ID
	extra := env.tag(t, "rare", 7)

	edited, err := env.coord.EditListing(env.ctx, EditListingRequest{
		RequesterID:  uid,
		ListingID:    created.ID,
		AssignedTags: []TagRef{{ID: books}, {ID: extra}},
		RemovedTags:  []TagRef{{ID: books}, {ID: paper}, {ID: extra}},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{books, extra}, listingTagIDs(edited))
	assert.Equal(t, int64(1), env.timesUsed(t, books), "already paired, not counted again")
	assert.Equal(t, int64(8), env.timesUsed(t, extra))
	assert.Equal(t, int64(1), env.timesUsed(t, paper), "counter never decreases")
}

func TestEditListing_NewTagsAndUploads(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	created := env.listing(t, uid, []string{"books"})
	back := env.upload(t, uid, "back.png")

	edited, err := env.coord.EditListing(env.ctx, EditListingRequest{
		RequesterID: uid,
		ListingID:   created.ID,
		NewTags:     []NewTagText{{Text: "rare"}, {Text: "Rare"}},
		Files:       []UploadedFile{back},
		TitleImage:  ptr("back.png"),
	})
	require.NoError(t, err)
	assert.Len(t, edited.Tags, 3, "case variants are separate tags")
	assert.Len(t, edited.Images, 2)
	assert.Equal(t, back.StoredName, edited.TitleImage)

	env.drain(t)
	assert.True(t, env.stored(t, back.StoredName))
}

func TestEditListing_TitleByStoredName(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	created := env.listing(t, uid, []string{"books"}, "front.png", "back.png")
	second := created.Images[1].FileName

	edited, err := env.coord.EditListing(env.ctx, EditListingRequest{
		RequesterID: uid,
		ListingID:   created.ID,
		TitleImage:  ptr(second),
	})
	require.NoError(t, err)
	assert.Equal(t, second, edited.TitleImage)

	edited, err = env.coord.EditListing(env.ctx, EditListingRequest{
		RequesterID: uid,
		ListingID:   created.ID,
		TitleImage:  ptr("nothing-like-this.png"),
	})
	require.NoError(t, err)
	assert.Equal(t, second, edited.TitleImage, "unmatched selector keeps the title")
}

func TestEditListing_RemovedTitleMovesToOldestImage(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	created := env.listing(t, uid, []string{"books"}, "front.png", "side.png", "back.png")
	require.Len(t, created.Images, 3)
	title := created.Images[0]
	require.Equal(t, title.FileName, created.TitleImage)

	edited, err := env.coord.EditListing(env.ctx, EditListingRequest{
		RequesterID:   uid,
		ListingID:     created.ID,
		RemovedImages: []uint{title.ID},
	})
	require.NoError(t, err)
	require.Len(t, edited.Images, 2)
	assert.Equal(t, created.Images[1].FileName, edited.TitleImage)

	var row models.UserImage
	require.NoError(t, env.db.First(&row, title.ID).Error)
	assert.True(t, row.Deleted)
	assert.NotNil(t, row.DetachedAt)
	assert.True(t, env.stored(t, title.FileName), "detach keeps the file")
}

func TestEditListing_CannotRemoveEveryImage(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	created := env.listing(t, uid, []string{"books"})

	_, err := env.coord.EditListing(env.ctx, EditListingRequest{
		RequesterID:   uid,
		ListingID:     created.ID,
		Name:          ptr("renamed"),
		RemovedImages: []uint{created.Images[0].ID},
	})
	require.ErrorIs(t, err, ErrValidation)

	after, err := env.coord.GetListing(env.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, after.Name, "rolled back")
	assert.Len(t, after.Images, 1)
}

func TestEditListing_IgnoresImagesOfOtherListings(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	mine := env.listing(t, uid, []string{"books"}, "a.png", "b.png")
	other := env.listing(t, env.user(t, "Bob"), []string{"books"})

	_, err := env.coord.EditListing(env.ctx, EditListingRequest{
		RequesterID:   uid,
		ListingID:     mine.ID,
		RemovedImages: []uint{other.Images[0].ID},
	})
	require.NoError(t, err)

	still, err := env.coord.GetListing(env.ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, still.Images, 1)
}

func TestEditListing_TagCap(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	created := env.listing(t, uid, []string{"a", "b", "c", "d", "e"})
	refs := []TagRef{}
	for _, text := range []string{"f", "g", "h", "i", "j"} {
		refs = append(refs, TagRef{ID: env.tag(t, text, 0)})
	}
	_, err := env.coord.EditListing(env.ctx, EditListingRequest{RequesterID: uid, ListingID: created.ID, AssignedTags: refs})
	require.NoError(t, err)

	upload := env.upload(t, uid, "extra.png")
	_, err = env.coord.EditListing(env.ctx, EditListingRequest{
		RequesterID: uid,
		ListingID:   created.ID,
		NewTags:     []NewTagText{{Text: "k"}},
		Files:       []UploadedFile{upload},
	})
	require.ErrorIs(t, err, ErrValidation)

	env.drain(t)
	assert.False(t, env.stored(t, upload.StoredName))
	after, err := env.coord.GetListing(env.ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, after.Tags, 10)
}

func TestEditListing_DeltaLimits(t *testing.T) {
	env := newTestEnv(t)
	six := []TagRef{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}, {ID: 6}}

	_, err := env.coord.EditListing(env.ctx, EditListingRequest{RequesterID: 1, ListingID: 1, RemovedTags: six})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.coord.EditListing(env.ctx, EditListingRequest{RequesterID: 1, ListingID: 1, AssignedTags: six})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.coord.EditListing(env.ctx, EditListingRequest{RequesterID: 1, ListingID: 1, RemovedImages: []uint{1, 2, 3, 4, 5, 6}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.coord.EditListing(env.ctx, EditListingRequest{RequesterID: 1, ListingID: 1, Name: ptr("")})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.coord.EditListing(env.ctx, EditListingRequest{RequesterID: 1, ListingID: 1, Status: ptr(models.ListingStatus("sold"))})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteListing_KeepsTagCounts(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	created := env.listing(t, uid, []string{"books"})
	tagID := created.Tags[0].ID

	assert.ErrorIs(t, env.coord.DeleteListing(env.ctx, env.user(t, "Bob"), created.ID), ErrForbidden)
	require.NoError(t, env.coord.DeleteListing(env.ctx, uid, created.ID))

	_, err := env.coord.GetListing(env.ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(1), env.timesUsed(t, tagID))
	assert.Equal(t, int64(1), env.count(t, &models.ListingTag{}), "pairs survive soft delete")
	assert.ErrorIs(t, env.coord.DeleteListing(env.ctx, uid, created.ID), ErrNotFound)
	assert.Equal(t, []EventKind{EventCreated, EventDeleted}, env.events.kinds())
}

func TestSetListingStatus(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	created := env.listing(t, uid, []string{"books"})

	_, err := env.coord.SetListingStatus(env.ctx, uid, created.ID, "sold")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.coord.SetListingStatus(env.ctx, env.user(t, "Bob"), created.ID, models.StatusInactive)
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := env.coord.SetListingStatus(env.ctx, uid, created.ID, models.StatusInactive)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, updated.Status)

	recent, err := env.coord.RecentListings(env.ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, recent, "inactive listings are hidden from the public page")
}

// slowStore holds every delete until release is closed.
type slowStore struct {
	storage.FileStore
	release chan struct{}
}

func (s *slowStore) Delete(ctx context.Context, name string) error {
	<-s.release
	return s.FileStore.Delete(ctx, name)
}

func TestDiscardUploads_DoesNotWaitForStore(t *testing.T) {
	env := newTestEnv(t)
	uid := env.user(t, "Ann")
	file := env.upload(t, uid, "cover.png")
	slow := &slowStore{FileStore: env.files, release: make(chan struct{})}
	coord := NewCoordinator(env.db, slow, DefaultLimits(), zap.NewNop(), nil)

	returned := make(chan struct{})
	go func() {
		coord.DiscardUploads([]UploadedFile{file})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("DiscardUploads waited for the store")
	}

	ctx, cancel := context.WithTimeout(env.ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, coord.Drain(ctx), context.DeadlineExceeded)
	assert.True(t, env.stored(t, file.StoredName))

	close(slow.release)
	require.NoError(t, coord.Drain(env.ctx))
	assert.False(t, env.stored(t, file.StoredName))
}
