package models

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// tagSearchIndex serves the case-insensitive prefix search on tag text.
const tagSearchIndex = "idx_tags_text_lower"

// Migrate registers the listing_tags join model and creates missing tables and columns.
func Migrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&Listing{}, "Tags", &ListingTag{}); err != nil {
		return fmt.Errorf("setup listing_tags join table: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &Tag{}, &Listing{}, &ListingTag{}, &UserImage{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// search still works without the index, only slower
	if err := createTagSearchIndex(db); err != nil {
		db.Logger.Warn(context.Background(), "create %s: %v", tagSearchIndex, err)
	}
	return nil
}

func createTagSearchIndex(db *gorm.DB) error {
	if db.Migrator().HasIndex(&Tag{}, tagSearchIndex) {
		return nil
	}
	var ddl string
	switch db.Dialector.Name() {
	case "postgres":
		ddl = "CREATE INDEX IF NOT EXISTS " + tagSearchIndex + " ON tags (LOWER(text) text_pattern_ops)"
	case "mysql":
		// functional key part, MySQL 8.0.13+
		ddl = "CREATE INDEX " + tagSearchIndex + " ON tags ((LOWER(text)))"
	case "sqlite":
		ddl = "CREATE INDEX IF NOT EXISTS " + tagSearchIndex + " ON tags (LOWER(text))"
	default:
		return nil
	}
	return db.Exec(ddl).Error
}
