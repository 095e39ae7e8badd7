package utils

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/bookswap/config"
)

var (
	redisClient *redis.Client
	redisMu     sync.RWMutex
)

// InitRedis connects the shared cache client. An empty RedisHost leaves caching disabled.
func InitRedis(cfg config.AppConfig) *redis.Client {
	if cfg.RedisHost == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	// ping only to surface misconfiguration early; reads fall back to the database
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		L().Sugar().Warnf("redis ping failed, cache degraded: %v", err)
	}
	SetRedis(client)
	return client
}

// SetRedis replaces the shared client. Passing nil disables caching.
func SetRedis(client *redis.Client) {
	redisMu.Lock()
	redisClient = client
	redisMu.Unlock()
}

// GetRedis returns the shared client, nil when caching is disabled.
func GetRedis() *redis.Client {
	redisMu.RLock()
	defer redisMu.RUnlock()
	return redisClient
}
