package controllers

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/bookswap/models"
	"github.com/cppla/bookswap/utils"
)

// StatsController provides marketplace counters.
type StatsController struct {
	db *gorm.DB
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB) *StatsController {
	return &StatsController{db: db}
}

const (
	statsCacheKey = "cache:stats"
	statsCacheTTL = time.Minute
)

// GetStats returns aggregate statistics for the marketplace, cached for a minute.
func (s *StatsController) GetStats(ctx *gin.Context) {
	if serveCached(ctx, statsCacheKey) {
		return
	}
	var userCount int64
	var listingCount int64
	var activeCount int64
	var tagCount int64

	db := s.db.WithContext(ctx.Request.Context())
	if err := db.Model(&models.User{}).Count(&userCount).Error; err != nil {
		// Fallback to 0 instead of failing the whole endpoint
		userCount = 0
	}

	if err := db.Model(&models.Listing{}).Where("deleted = ?", false).Count(&listingCount).Error; err != nil {
		listingCount = 0
	}

	if err := db.Model(&models.Listing{}).
		Where("deleted = ? AND status = ?", false, models.StatusActive).
		Count(&activeCount).Error; err != nil {
		activeCount = 0
	}

	if err := db.Model(&models.Tag{}).Count(&tagCount).Error; err != nil {
		tagCount = 0
	}

	stats := gin.H{
		"user_count":           userCount,
		"listing_count":        listingCount,
		"active_listing_count": activeCount,
		"tag_count":            tagCount,
	}
	utils.CacheSetJSON(statsCacheKey, utils.JSONResponse{Code: 0, Message: "success", Data: stats}, statsCacheTTL)
	utils.Success(ctx, stats)
}
