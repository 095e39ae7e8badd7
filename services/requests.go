package services

import (
	"strings"
	"time"

	"github.com/cppla/bookswap/models"
)

// UploadedFile is a file the transport layer already stored and validated.
type UploadedFile struct {
	StoredName   string
	OriginalName string
	MimeType     string
	SizeBytes    int64
}

// TagRef points at an existing tag.
type TagRef struct {
	ID uint `json:"id"`
}

// NewTagText is a tag the requester wants created.
type NewTagText struct {
	Text string `json:"text"`
}

// NewTag is a tag row to insert, with its creator (nil for system tags).
type NewTag struct {
	Text      string
	CreatorID *uint
}

// CreateListingRequest carries everything needed to create a listing in one go.
type CreateListingRequest struct {
	RequesterID uint
	Name        string
	Description string
	Price       int64
	Type        models.ListingType
	Tags        []TagRef
	NewTags     []NewTagText
	// TitleImage is the original name of one of Files.
	TitleImage string
	Files      []UploadedFile
}

// EditListingRequest is a partial update. Nil fields are left untouched,
// the slices are deltas against the listing's current tags and images.
type EditListingRequest struct {
	RequesterID uint
	ListingID   uint
	Name        *string
	Description *string
	Price       *int64
	Type        *models.ListingType
	Status      *models.ListingStatus
	// TitleImage names a new file by original name or an attached image by stored name.
	TitleImage    *string
	AssignedTags  []TagRef
	NewTags       []NewTagText
	RemovedTags   []TagRef
	RemovedImages []uint
	Files         []UploadedFile
}

// ListingPatch holds the scalar columns an edit may change.
type ListingPatch struct {
	Name        *string
	Description *string
	Price       *int64
	Type        *models.ListingType
	Status      *models.ListingStatus
}

// ListingFilter narrows the public listing search. Zero values are ignored.
type ListingFilter struct {
	Name     string
	Type     models.ListingType
	MinPrice *int64
	MaxPrice *int64
	TagIDs   []uint
}

// listingDelta is the shared reconciliation input of create and edit.
type listingDelta struct {
	removedImages []uint
	addedFiles    []UploadedFile
	removedTags   []uint
	assignedTags  []uint
	newTags       []NewTag
	titleSelector string
}

// Limits bounds a single upsert.
type Limits struct {
	// MaxTags caps the tags of one listing.
	MaxTags int
	// MaxEditDelta caps each tag and image list of a request, and new tags at create.
	MaxEditDelta   int
	TxTimeout      time.Duration
	CleanupTimeout time.Duration
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxTags:        10,
		MaxEditDelta:   5,
		TxTimeout:      10 * time.Second,
		CleanupTimeout: 30 * time.Second,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxTags <= 0 {
		l.MaxTags = d.MaxTags
	}
	if l.MaxEditDelta <= 0 {
		l.MaxEditDelta = d.MaxEditDelta
	}
	if l.TxTimeout <= 0 {
		l.TxTimeout = d.TxTimeout
	}
	if l.CleanupTimeout <= 0 {
		l.CleanupTimeout = d.CleanupTimeout
	}
	return l
}

func tagIDs(refs []TagRef) []uint {
	ids := make([]uint, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

func newTags(texts []NewTagText, creator uint) []NewTag {
	tags := make([]NewTag, 0, len(texts))
	for _, t := range texts {
		c := creator
		tags = append(tags, NewTag{Text: strings.TrimSpace(t.Text), CreatorID: &c})
	}
	return tags
}

func storedNames(files []UploadedFile) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.StoredName != "" {
			names = append(names, f.StoredName)
		}
	}
	return names
}
