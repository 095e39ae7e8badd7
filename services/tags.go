package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/cppla/bookswap/models"
	"github.com/cppla/bookswap/utils"
)

// MaxTagTextLength bounds tag text in characters.
const MaxTagTextLength = 15

// TagLedger owns tag rows and their usage counters.
type TagLedger struct {
	MaxTags int
}

// Resolve turns existing tag ids plus new tag texts into tag ids, inside tx.
// Every existing tag is counted once more, new tags start at times_used 1.
// Text duplicates, also case-insensitive ones, are inserted as separate tags.
func (l TagLedger) Resolve(ctx context.Context, tx *gorm.DB, existing []uint, fresh []NewTag) ([]uint, error) {
	ids := utils.Unique(existing)
	if l.MaxTags > 0 && len(ids)+len(fresh) > l.MaxTags {
		return nil, invalid("tags", "at most %d tags per listing", l.MaxTags)
	}
	for _, id := range ids {
		if id == 0 {
			return nil, invalid("tags", "tag id is required")
		}
	}
	for _, t := range fresh {
		if err := checkTagText(t.Text); err != nil {
			return nil, err
		}
	}

	if len(ids) > 0 {
		res := incrementUsage(ctx, tx, ids)
		if res.Error != nil {
			return nil, fmt.Errorf("increment tag usage: %w", res.Error)
		}
		if res.RowsAffected != int64(len(ids)) {
			return nil, invalid("tags", "unknown tag id")
		}
	}

	resolved := make([]uint, 0, len(ids)+len(fresh))
	resolved = append(resolved, ids...)
	if len(fresh) == 0 {
		return resolved, nil
	}
	rows := make([]models.Tag, 0, len(fresh))
	for _, t := range fresh {
		rows = append(rows, models.Tag{Text: t.Text, CreatorID: t.CreatorID, TimesUsed: 1})
	}
	if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("insert tags: %w", err)
	}
	for _, r := range rows {
		resolved = append(resolved, r.ID)
	}
	return resolved, nil
}

// incrementUsage counts ids once more in a single UPDATE evaluated by the
// database, so concurrent requests cannot lose an increment.
func incrementUsage(ctx context.Context, tx *gorm.DB, ids []uint) *gorm.DB {
	return tx.WithContext(ctx).
		Model(&models.Tag{}).
		Where("id IN ?", ids).
		UpdateColumn("times_used", gorm.Expr("times_used + ?", 1))
}

// Search returns tags whose text starts with prefix, ignoring case, least used first.
func (TagLedger) Search(ctx context.Context, db *gorm.DB, prefix string, limit int) ([]models.Tag, error) {
	q := db.WithContext(ctx).Order("times_used ASC").Order("id ASC")
	if p := strings.TrimSpace(prefix); p != "" {
		q = q.Where("LOWER(text) LIKE ? ESCAPE '!'", escapeLike(strings.ToLower(p))+"%")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	tags := []models.Tag{}
	if err := q.Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("search tags: %w", err)
	}
	return tags, nil
}

func checkTagText(text string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n == 0 {
		return invalid("newTags", "tag text is required")
	}
	if n > MaxTagTextLength {
		return invalid("newTags", "tag text longer than %d characters", MaxTagTextLength)
	}
	return nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
