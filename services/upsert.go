// Package services holds the listing upsert engine: tag ledger, image attachments,
// listing rows and the coordinator that writes them in one transaction.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/bookswap/models"
	"github.com/cppla/bookswap/storage"
	"github.com/cppla/bookswap/utils"
)

// EventKind names a committed listing change.
type EventKind string

const (
	EventCreated EventKind = "listing.created"
	EventUpdated EventKind = "listing.updated"
	EventDeleted EventKind = "listing.deleted"
)

// ListingEvent is announced after a listing change committed.
type ListingEvent struct {
	Kind      EventKind `json:"-"`
	ListingID uint      `json:"listing_id"`
	PosterID  uint      `json:"poster_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher announces committed listing changes. Failures never affect the write.
type Publisher interface {
	PublishListingEvent(ctx context.Context, event ListingEvent) error
}

// Coordinator runs listing creates and edits as single transactions and
// removes the request's stored files whenever the write does not commit.
type Coordinator struct {
	db       *gorm.DB
	files    storage.FileStore
	limits   Limits
	logger   *zap.Logger
	events   Publisher
	tags     TagLedger
	images   ImageStore
	listings ListingRecord
	cleanup  sync.WaitGroup
}

// NewCoordinator wires the upsert engine. logger and events may be nil.
func NewCoordinator(db *gorm.DB, files storage.FileStore, limits Limits, logger *zap.Logger, events Publisher) *Coordinator {
	limits = limits.withDefaults()
	if logger == nil {
		logger = utils.L()
	}
	return &Coordinator{
		db:     db,
		files:  files,
		limits: limits,
		logger: logger,
		events: events,
		tags:   TagLedger{MaxTags: limits.MaxTags},
	}
}

// Limits returns the effective limits.
func (c *Coordinator) Limits() Limits {
	return c.limits
}

// CreateListing validates req, then writes the listing, its tags and images atomically.
func (c *Coordinator) CreateListing(ctx context.Context, req CreateListingRequest) (*models.Listing, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	title, err := c.validateCreate(req)
	if err != nil {
		c.discard(req.Files)
		return nil, err
	}

	var id uint
	err = c.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
		listing := &models.Listing{
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			Type:        req.Type,
			Status:      models.StatusActive,
			TitleImage:  title.StoredName,
			PosterID:    req.RequesterID,
		}
		if err := c.listings.Create(ctx, tx, listing); err != nil {
			return err
		}
		id = listing.ID
		return c.reconcile(ctx, tx, id, req.RequesterID, listingDelta{
			addedFiles:   req.Files,
			assignedTags: tagIDs(req.Tags),
			newTags:      newTags(req.NewTags, req.RequesterID),
		})
	})
	if err != nil {
		c.discard(req.Files)
		return nil, c.fail("create listing", err)
	}

	listing, err := c.listings.Get(ctx, c.db, id)
	if err != nil {
		return nil, c.fail("load created listing", err)
	}
	c.publish(ctx, EventCreated, listing)
	return listing, nil
}

// EditListing checks ownership, then applies the partial update and the tag and image deltas atomically.
func (c *Coordinator) EditListing(ctx context.Context, req EditListingRequest) (*models.Listing, error) {
	if err := c.validateEdit(&req); err != nil {
		c.discard(req.Files)
		return nil, err
	}

	selector := ""
	if req.TitleImage != nil {
		selector = strings.TrimSpace(*req.TitleImage)
	}
	err := c.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if _, err := c.listings.AssertOwnership(ctx, tx, req.ListingID, req.RequesterID); err != nil {
			return err
		}
		patch := ListingPatch{
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			Type:        req.Type,
			Status:      req.Status,
		}
		if err := c.listings.Update(ctx, tx, req.ListingID, patch); err != nil {
			return err
		}
		return c.reconcile(ctx, tx, req.ListingID, req.RequesterID, listingDelta{
			removedImages: req.RemovedImages,
			addedFiles:    req.Files,
			removedTags:   tagIDs(req.RemovedTags),
			assignedTags:  tagIDs(req.AssignedTags),
			newTags:       newTags(req.NewTags, req.RequesterID),
			titleSelector: selector,
		})
	})
	if err != nil {
		c.discard(req.Files)
		return nil, c.fail("edit listing", err)
	}

	listing, err := c.listings.Get(ctx, c.db, req.ListingID)
	if err != nil {
		return nil, c.fail("load edited listing", err)
	}
	c.publish(ctx, EventUpdated, listing)
	return listing, nil
}

// DeleteListing soft-deletes a listing owned by requesterID.
func (c *Coordinator) DeleteListing(ctx context.Context, requesterID, listingID uint) error {
	var posterID uint
	err := c.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
		listing, err := c.listings.AssertOwnership(ctx, tx, listingID, requesterID)
		if err != nil {
			return err
		}
		posterID = listing.PosterID
		return c.listings.SoftDelete(ctx, tx, listingID)
	})
	if err != nil {
		return c.fail("delete listing", err)
	}
	c.publish(ctx, EventDeleted, &models.Listing{ID: listingID, PosterID: posterID})
	return nil
}

// SetListingStatus changes the status of a listing owned by requesterID.
func (c *Coordinator) SetListingStatus(ctx context.Context, requesterID, listingID uint, status models.ListingStatus) (*models.Listing, error) {
	if !status.Valid() {
		return nil, invalid("status", "must be active, inactive or other")
	}
	err := c.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if _, err := c.listings.AssertOwnership(ctx, tx, listingID, requesterID); err != nil {
			return err
		}
		return c.listings.SetStatus(ctx, tx, listingID, status)
	})
	if err != nil {
		return nil, c.fail("set listing status", err)
	}
	listing, err := c.listings.Get(ctx, c.db, listingID)
	if err != nil {
		return nil, c.fail("load listing", err)
	}
	c.publish(ctx, EventUpdated, listing)
	return listing, nil
}

// Drain waits for pending orphan cleanups, or until ctx is done.
func (c *Coordinator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.cleanup.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reconcile applies a delta inside tx. Order matters: images first so the
// title can point at new files, removals before additions so an id that is
// both removed and assigned ends up associated.
func (c *Coordinator) reconcile(ctx context.Context, tx *gorm.DB, listingID, actorID uint, d listingDelta) error {
	if err := c.images.Detach(ctx, tx, listingID, d.removedImages); err != nil {
		return err
	}
	if _, err := c.images.Attach(ctx, tx, listingID, actorID, d.addedFiles); err != nil {
		return err
	}

	assigned := utils.Unique(d.assignedTags)
	if err := c.listings.UnpairTags(ctx, tx, listingID, utils.Without(utils.Unique(d.removedTags), assigned)); err != nil {
		return err
	}
	current, err := c.listings.TagIDs(ctx, tx, listingID)
	if err != nil {
		return err
	}
	// already paired tags are not counted twice
	resolved, err := c.tags.Resolve(ctx, tx, utils.Without(assigned, current), d.newTags)
	if err != nil {
		return err
	}
	if err := c.listings.PairTags(ctx, tx, listingID, resolved); err != nil {
		return err
	}
	if total := len(utils.Unique(append(current, resolved...))); total > c.limits.MaxTags {
		return invalid("tags", "at most %d tags per listing", c.limits.MaxTags)
	}

	if _, err := c.images.SelectTitle(ctx, tx, listingID, d.titleSelector, d.addedFiles); err != nil {
		return err
	}
	return c.images.EnsureTitle(ctx, tx, listingID)
}

func (c *Coordinator) validateCreate(req CreateListingRequest) (UploadedFile, error) {
	if req.RequesterID == 0 {
		return UploadedFile{}, invalid("user", "requester is required")
	}
	if err := checkText("name", req.Name, MaxNameLength); err != nil {
		return UploadedFile{}, err
	}
	if err := checkText("description", req.Description, MaxDescriptionLength); err != nil {
		return UploadedFile{}, err
	}
	if req.Price < 0 {
		return UploadedFile{}, invalid("price", "must not be negative")
	}
	if !req.Type.Valid() {
		return UploadedFile{}, invalid("type", "must be offer or demand")
	}
	if len(req.Tags)+len(req.NewTags) == 0 {
		return UploadedFile{}, invalid("tags", "at least one tag is required")
	}
	if len(req.Tags)+len(req.NewTags) > c.limits.MaxTags {
		return UploadedFile{}, invalid("tags", "at most %d tags per listing", c.limits.MaxTags)
	}
	if len(req.NewTags) > c.limits.MaxEditDelta {
		return UploadedFile{}, invalid("newTags", "at most %d new tags", c.limits.MaxEditDelta)
	}
	if err := checkTags(req.Tags, req.NewTags); err != nil {
		return UploadedFile{}, err
	}
	if len(req.Files) == 0 {
		return UploadedFile{}, invalid("images", "at least one image is required")
	}
	if strings.TrimSpace(req.TitleImage) == "" {
		return UploadedFile{}, invalid("titleImage", "title image is required")
	}
	title, ok := MatchTitle(req.Files, req.TitleImage)
	if !ok {
		return UploadedFile{}, invalid("titleImage", "does not match any uploaded image")
	}
	return title, nil
}

func (c *Coordinator) validateEdit(req *EditListingRequest) error {
	if req.RequesterID == 0 {
		return invalid("user", "requester is required")
	}
	if req.ListingID == 0 {
		return invalid("id", "listing id is required")
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if err := checkText("name", name, MaxNameLength); err != nil {
			return err
		}
		req.Name = &name
	}
	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		if err := checkText("description", desc, MaxDescriptionLength); err != nil {
			return err
		}
		req.Description = &desc
	}
	if req.Price != nil && *req.Price < 0 {
		return invalid("price", "must not be negative")
	}
	if req.Type != nil && !req.Type.Valid() {
		return invalid("type", "must be offer or demand")
	}
	if req.Status != nil && !req.Status.Valid() {
		return invalid("status", "must be active, inactive or other")
	}
	limit := c.limits.MaxEditDelta
	switch {
	case len(req.AssignedTags) > limit:
		return invalid("assignedTags", "at most %d entries", limit)
	case len(req.NewTags) > limit:
		return invalid("newTags", "at most %d entries", limit)
	case len(req.RemovedTags) > limit:
		return invalid("removedTags", "at most %d entries", limit)
	case len(req.RemovedImages) > limit:
		return invalid("removedImages", "at most %d entries", limit)
	}
	for _, r := range req.RemovedTags {
		if r.ID == 0 {
			return invalid("removedTags", "tag id is required")
		}
	}
	for _, id := range req.RemovedImages {
		if id == 0 {
			return invalid("removedImages", "image id is required")
		}
	}
	return checkTags(req.AssignedTags, req.NewTags)
}

func checkTags(refs []TagRef, texts []NewTagText) error {
	for _, r := range refs {
		if r.ID == 0 {
			return invalid("tags", "tag id is required")
		}
	}
	for _, t := range texts {
		if err := checkTagText(t.Text); err != nil {
			return err
		}
	}
	return nil
}

func checkText(field, value string, limit int) error {
	n := utf8.RuneCountInString(value)
	if n == 0 {
		return invalid(field, "is required")
	}
	if n > limit {
		return invalid(field, "longer than %d characters", limit)
	}
	return nil
}

// inTx runs fn in one transaction bounded by the configured timeout.
func (c *Coordinator) inTx(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.limits.TxTimeout)
	defer cancel()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
}

func (c *Coordinator) fail(op string, err error) error {
	err = classify(op, err)
	if errors.Is(err, ErrInternal) {
		c.logger.Error(op+" failed", zap.Error(err))
	}
	return err
}

// DiscardUploads schedules deletion of files the transport saved for a request
// it then rejected. It returns at once, Drain waits for the deletes.
func (c *Coordinator) DiscardUploads(files []UploadedFile) {
	c.discard(files)
}

// discard deletes files of a request that did not commit. It runs detached
// from the request so a slow store never delays the response.
func (c *Coordinator) discard(files []UploadedFile) {
	names := storedNames(files)
	if len(names) == 0 || c.files == nil {
		return
	}
	c.cleanup.Add(1)
	go func() {
		defer c.cleanup.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.limits.CleanupTimeout)
		defer cancel()
		for _, name := range names {
			if err := c.files.Delete(ctx, name); err != nil {
				c.logger.Warn("orphan file cleanup failed", zap.String("file", name), zap.Error(err))
			}
		}
	}()
}

func (c *Coordinator) publish(ctx context.Context, kind EventKind, listing *models.Listing) {
	if c.events == nil {
		return
	}
	event := ListingEvent{Kind: kind, ListingID: listing.ID, PosterID: listing.PosterID, Timestamp: time.Now().UTC()}
	if err := c.events.PublishListingEvent(ctx, event); err != nil {
		c.logger.Warn("publish listing event failed",
			zap.String("kind", string(kind)), zap.Uint("listing_id", listing.ID), zap.Error(err))
	}
}
