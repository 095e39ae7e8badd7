package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/cppla/bookswap/config"
)

const serviceName = "bookswap"

// silentLevel is above every zap level, LOG_LEVEL=silent mutes the logger like it mutes gorm.
const silentLevel = zapcore.FatalLevel + 1

var (
	// Logger is the global structured logger
	Logger *zap.Logger
	// Sugar is a sugared logger for convenience
	Sugar *zap.SugaredLogger
)

// rotation carries the lumberjack limits shared by the app log and the access log.
type rotation struct {
	maxSizeMB, maxBackups, maxAgeDays int
	compress                          bool
}

func rotationOf(cfg config.AppConfig) rotation {
	return rotation{cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress}
}

// writer opens a rolling file sink. Upload-heavy days produce large access logs,
// so unset limits fall back to 50 MB files kept for two weeks.
func (r rotation) writer(path string) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    nz(r.maxSizeMB, 50),
		MaxBackups: nz(r.maxBackups, 5),
		MaxAge:     nz(r.maxAgeDays, 14),
		Compress:   r.compress,
	}), nil
}

// InitLogger builds the service logger: JSON to stdout (errors to stderr) and, when LOG_PATH is set,
// to a rolling file. Every entry carries the service name.
func InitLogger(cfg config.AppConfig) error {
	level := parseLevel(cfg.LogLevel)
	enc := zapcore.NewJSONEncoder(encoderConfig())

	atLeast := func(l zapcore.Level) bool { return l >= level }
	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return atLeast(l) && l < zapcore.ErrorLevel
		})),
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return atLeast(l) && l >= zapcore.ErrorLevel
		})),
	}
	if cfg.LogPath != "" {
		ws, err := rotationOf(cfg).writer(cfg.LogPath)
		if err != nil {
			return err
		}
		cores = append(cores, zapcore.NewCore(enc, ws, zap.LevelEnablerFunc(atLeast)))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if level == zapcore.DebugLevel {
		opts = append(opts, zap.Development())
	}
	Logger = zap.New(zapcore.NewTee(cores...), opts...).With(zap.String("service", serviceName))
	Sugar = Logger.Sugar()
	return nil
}

// NewRollingFileLogger builds a file-only JSON logger, used for the gin access log.
func NewRollingFileLogger(path, level string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) (*zap.Logger, error) {
	if path == "" {
		return nil, errors.New("log path is empty")
	}
	ws, err := rotation{maxSizeMB, maxBackups, maxAgeDays, compress}.writer(path)
	if err != nil {
		return nil, err
	}
	floor := parseLevel(level)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws,
		zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= floor }))
	return zap.New(core).With(zap.String("service", serviceName)), nil
}

// L returns the global logger, or a no-op logger before InitLogger ran (tests).
func L() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}

func encoderConfig() zapcore.EncoderConfig {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder
	return encCfg
}

// parseLevel accepts zap level names plus "silent"; anything unknown means info.
func parseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "silent" {
		return silentLevel
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func nz(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
