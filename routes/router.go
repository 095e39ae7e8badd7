package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/bookswap/config"
	"github.com/cppla/bookswap/controllers"
	"github.com/cppla/bookswap/middleware"
	"github.com/cppla/bookswap/services"
	"github.com/cppla/bookswap/storage"
	"github.com/cppla/bookswap/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, db *gorm.DB, coord *services.Coordinator, files storage.FileStore) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = cfg.UploadMaxBytes
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		// fallback to default recovery if logger failed to init
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		// credentials cannot be combined with a wildcard origin
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok", "storage": files.Backend()})
	})

	intake := controllers.NewUploadIntake(files, coord, cfg.UploadMaxBytes, cfg.UploadMaxFiles)
	listingController := controllers.NewListingController(coord, intake, files)
	tagController := controllers.NewTagController(coord)
	userController := controllers.NewUserController(db)
	statsController := controllers.NewStatsController(db)

	public := r.Group("/public")
	public.GET("/listings/new/:page", listingController.RecentListings)
	public.GET("/listing/:listingId", listingController.GetListing)
	public.POST("/listings/filter", listingController.FilterListings)
	public.GET("/uploads/:name", listingController.ServeUpload)

	api := r.Group("/api/v1")
	api.GET("/tags", tagController.Search)
	api.GET("/stats", statsController.GetStats)

	auth := middleware.AuthRequired(cfg.JWTSecret)
	limit := middleware.RateLimitMiddleware(cfg.RateLimitPerMinute)

	listingGroup := r.Group("/listing")
	listingGroup.Use(auth, limit)
	listingGroup.POST("/new", listingController.CreateListing)
	listingGroup.POST("/edit", listingController.EditListing)

	userGroup := r.Group("/user")
	userGroup.Use(auth, limit)
	userGroup.GET("/profile", userController.Profile)
	userGroup.POST("/listings", listingController.MyListings)
	userGroup.POST("/listing/:listingId", listingController.OwnedListing)
	userGroup.DELETE("/listing/delete/:listingId", listingController.DeleteListing)
	userGroup.POST("/listing/update/status", listingController.UpdateStatus)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
