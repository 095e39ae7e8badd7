package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis for caching listing reads
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// NATS for listing events and tag search
	NATSURL string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Upload storage
	StorageBackend string
	UploadDir      string
	UploadMaxBytes int64
	UploadMaxFiles int
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MongoURI       string
	MongoDB        string
	// Detached image sweeper, zero interval disables it
	ImageSweepIntervalMinutes int
	ImageRetentionHours       int
	// Listing upsert limits
	ListingMaxTags        int
	ListingMaxEditDelta   int
	TxTimeoutSeconds      int
	CleanupTimeoutSeconds int
}

// binding maps a grouped config.json key onto its environment variable and default.
type binding struct {
	key string
	env string
	def any
}

var bindings = []binding{
	{"app.port", "APP_PORT", "8080"},
	{"app.jwt_secret", "JWT_SECRET", ""},
	{"app.rate_limit_per_minute", "RATE_LIMIT_PER_MINUTE", 60},
	{"app.allowed_origins", "ALLOWED_ORIGINS", []string{"*"}},
	{"gin.mode", "GIN_MODE", "release"},
	{"gin.log_path", "GIN_PATH", "logs/go_gin.log"},
	{"database.driver", "DB_DRIVER", "postgres"},
	{"database.uri", "DATABASE_URI", ""},
	{"database.host", "DB_HOST", "127.0.0.1"},
	{"database.port", "DB_PORT", ""},
	{"database.user", "DB_USER", "postgres"},
	{"database.password", "DB_PASSWORD", ""},
	{"database.name", "DB_NAME", "bookswap"},
	{"redis.host", "REDIS_HOST", "127.0.0.1"},
	{"redis.port", "REDIS_PORT", 6379},
	{"redis.db", "REDIS_DB", 0},
	{"redis.password", "REDIS_PASSWORD", ""},
	{"nats.url", "NATS_URL", ""},
	{"log.level", "LOG_LEVEL", "info"},
	{"log.path", "LOG_PATH", "logs/app.log"},
	{"log.max_size_mb", "LOG_MAX_SIZE_MB", 100},
	{"log.max_backups", "LOG_MAX_BACKUPS", 3},
	{"log.max_age_days", "LOG_MAX_AGE_DAYS", 7},
	{"log.compress", "LOG_COMPRESS", false},
	{"storage.backend", "STORAGE_BACKEND", "local"},
	{"storage.upload_dir", "UPLOAD_DIR", filepath.Join("public", "uploads")},
	{"storage.max_bytes", "UPLOAD_MAX_BYTES", 5 * 1024 * 1024},
	{"storage.max_files", "UPLOAD_MAX_FILES", 5},
	{"storage.minio.endpoint", "MINIO_ENDPOINT", "localhost:9000"},
	{"storage.minio.access_key", "MINIO_ACCESS_KEY", ""},
	{"storage.minio.secret_key", "MINIO_SECRET_KEY", ""},
	{"storage.minio.bucket", "MINIO_BUCKET", "listing-images"},
	{"storage.minio.use_ssl", "MINIO_USE_SSL", false},
	{"storage.mongo.uri", "MONGO_URI", "mongodb://localhost:27017"},
	{"storage.mongo.db", "MONGO_DB", "bookswap"},
	{"storage.sweep_interval_minutes", "IMAGE_SWEEP_INTERVAL_MINUTES", 0},
	{"storage.retention_hours", "IMAGE_RETENTION_HOURS", 168},
	{"listing.max_tags", "LISTING_MAX_TAGS", 10},
	{"listing.max_edit_delta", "LISTING_MAX_EDIT_DELTA", 5},
	{"listing.tx_timeout_seconds", "TX_TIMEOUT_SECONDS", 10},
	{"listing.cleanup_timeout_seconds", "CLEANUP_TIMEOUT_SECONDS", 30},
}

var (
	cfg    AppConfig
	loaded bool
	mu     sync.Mutex
)

// Load loads the application configuration. It should be called once during boot.
// Precedence: config/config.json -> defaults -> environment variable overrides.
func Load() AppConfig {
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return cfg
	}

	// .env only fills variables that are not already set
	_ = godotenv.Load()

	c, err := Read(filepath.Join("config", "config.json"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	mu.Lock()
	ok := loaded
	c := cfg
	mu.Unlock()
	if !ok {
		return Load()
	}
	return c
}

// Read builds an AppConfig from an optional JSON file plus the environment.
func Read(path string) (AppConfig, error) {
	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		_ = v.BindEnv(b.key, b.env)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return AppConfig{}, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	c := AppConfig{
		AppPort:                   v.GetString("app.port"),
		JWTSecret:                 v.GetString("app.jwt_secret"),
		RateLimitPerMinute:        v.GetInt("app.rate_limit_per_minute"),
		AllowedOrigins:            stringList(v, "app.allowed_origins"),
		GinMode:                   v.GetString("gin.mode"),
		GinPath:                   v.GetString("gin.log_path"),
		DBDriver:                  strings.ToLower(v.GetString("database.driver")),
		DatabaseURI:               v.GetString("database.uri"),
		DBHost:                    v.GetString("database.host"),
		DBPort:                    v.GetString("database.port"),
		DBUser:                    v.GetString("database.user"),
		DBPassword:                v.GetString("database.password"),
		DBName:                    v.GetString("database.name"),
		RedisHost:                 v.GetString("redis.host"),
		RedisPort:                 v.GetInt("redis.port"),
		RedisDB:                   v.GetInt("redis.db"),
		RedisPassword:             v.GetString("redis.password"),
		NATSURL:                   v.GetString("nats.url"),
		LogLevel:                  v.GetString("log.level"),
		LogPath:                   v.GetString("log.path"),
		LogMaxSizeMB:              v.GetInt("log.max_size_mb"),
		LogMaxBackups:             v.GetInt("log.max_backups"),
		LogMaxAgeDays:             v.GetInt("log.max_age_days"),
		LogCompress:               v.GetBool("log.compress"),
		StorageBackend:            strings.ToLower(v.GetString("storage.backend")),
		UploadDir:                 v.GetString("storage.upload_dir"),
		UploadMaxBytes:            v.GetInt64("storage.max_bytes"),
		UploadMaxFiles:            v.GetInt("storage.max_files"),
		MinioEndpoint:             v.GetString("storage.minio.endpoint"),
		MinioAccessKey:            v.GetString("storage.minio.access_key"),
		MinioSecretKey:            v.GetString("storage.minio.secret_key"),
		MinioBucket:               v.GetString("storage.minio.bucket"),
		MinioUseSSL:               v.GetBool("storage.minio.use_ssl"),
		MongoURI:                  v.GetString("storage.mongo.uri"),
		MongoDB:                   v.GetString("storage.mongo.db"),
		ImageSweepIntervalMinutes: v.GetInt("storage.sweep_interval_minutes"),
		ImageRetentionHours:       v.GetInt("storage.retention_hours"),
		ListingMaxTags:            v.GetInt("listing.max_tags"),
		ListingMaxEditDelta:       v.GetInt("listing.max_edit_delta"),
		TxTimeoutSeconds:          v.GetInt("listing.tx_timeout_seconds"),
		CleanupTimeoutSeconds:     v.GetInt("listing.cleanup_timeout_seconds"),
	}

	if err := c.Validate(); err != nil {
		return AppConfig{}, err
	}
	return c, nil
}

// Validate checks values that have no usable default.
func (c AppConfig) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set in environment variables")
	}
	switch c.DBDriver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.UploadMaxBytes <= 0 || c.UploadMaxFiles <= 0 {
		return fmt.Errorf("upload limits must be positive")
	}
	if c.ListingMaxTags <= 0 || c.ListingMaxEditDelta <= 0 {
		return fmt.Errorf("listing tag limits must be positive")
	}
	return nil
}

// stringList accepts either a JSON array or a comma separated env value.
func stringList(v *viper.Viper, key string) []string {
	if raw, ok := v.Get(key).(string); ok {
		return splitAndTrim(raw)
	}
	return v.GetStringSlice(key)
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
