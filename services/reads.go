package services

import (
	"context"
	"fmt"

	"github.com/cppla/bookswap/models"
)

// GetListing returns a visible listing with tags, images and poster.
func (c *Coordinator) GetListing(ctx context.Context, id uint) (*models.Listing, error) {
	listing, err := c.listings.Get(ctx, c.db, id)
	if err != nil {
		return nil, c.fail("get listing", err)
	}
	return listing, nil
}

// GetOwnedListing is GetListing restricted to the poster.
func (c *Coordinator) GetOwnedListing(ctx context.Context, requesterID, id uint) (*models.Listing, error) {
	listing, err := c.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.PosterID != requesterID {
		return nil, fmt.Errorf("listing %d: %w", id, ErrForbidden)
	}
	return listing, nil
}

// RecentListings returns a public page of listings. Pages count from 0.
func (c *Coordinator) RecentListings(ctx context.Context, page int) ([]models.Listing, error) {
	if page < 0 {
		return nil, invalid("page", "must not be negative")
	}
	listings, err := c.listings.ListRecent(ctx, c.db, page)
	if err != nil {
		return nil, c.fail("recent listings", err)
	}
	return listings, nil
}

// FilterListings validates f and runs the public search.
func (c *Coordinator) FilterListings(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, invalid("type", "must be offer or demand")
	}
	if len(f.TagIDs) > MaxFilterTags {
		return nil, invalid("tags", "at most %d tags", MaxFilterTags)
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return nil, invalid("price", "min is greater than max")
	}
	listings, err := c.listings.Filter(ctx, c.db, f)
	if err != nil {
		return nil, c.fail("filter listings", err)
	}
	return listings, nil
}

// ListingsByPoster returns the requester's own listings.
func (c *Coordinator) ListingsByPoster(ctx context.Context, posterID uint) ([]models.Listing, error) {
	listings, err := c.listings.ListByPoster(ctx, c.db, posterID)
	if err != nil {
		return nil, c.fail("poster listings", err)
	}
	return listings, nil
}

// SearchTags is the prefix lookup behind the tag search channel.
func (c *Coordinator) SearchTags(ctx context.Context, prefix string, limit int) ([]models.Tag, error) {
	tags, err := c.tags.Search(ctx, c.db, prefix, limit)
	if err != nil {
		return nil, c.fail("search tags", err)
	}
	return tags, nil
}
