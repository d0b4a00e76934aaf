package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/SprayOps/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"
)

const (
	pingTimeout = 3 * time.Second
	// Limiter counters live in their own database (cache uses DB 0).
	limiterDatabase = 1
)

var client *goredis.Client

// Options describes the Redis endpoint shared by the snapshot cache and the
// rate limiter.
type Options struct {
	Host     string
	Port     int
	Password string
	Database int
}

// OptionsFromEnv reads CACHE_HOST, CACHE_PORT, CACHE_PASSWORD and CACHE_DB.
func OptionsFromEnv() Options {
	return Options{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnvInt("CACHE_PORT", 6379),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: env.GetEnvInt("CACHE_DB", 0),
	}
}

func (o Options) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// SetupCache initializes the connection to the Redis server
func SetupCache() {
	client = NewClient(OptionsFromEnv())
}

// NewClient creates a client and pings it once. A failed ping is logged;
// callers treat cache errors as misses.
func NewClient(o Options) *goredis.Client {
	c := goredis.NewClient(&goredis.Options{
		Addr:     o.Addr(),
		Password: o.Password,
		DB:       o.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	pong, err := c.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", o.Addr(), err)
	} else {
		log.Infof("[Cache] Connected to Redis at %s: %s", o.Addr(), pong)
	}
	return c
}

// GetClient returns the Redis client instance
func GetClient() *goredis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// SetClient replaces the shared client, used by tests with miniredis.
func SetClient(c *goredis.Client) {
	client = c
}

// NewLimiterStorage returns fiber storage backed by Redis so that request
// limits hold across application instances.
func NewLimiterStorage(o Options) fiber.Storage {
	return redis.New(redis.Config{
		Host:     o.Host,
		Port:     o.Port,
		Password: o.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}

// Ping reports whether the shared client answers.
func Ping(ctx context.Context) error {
	return GetClient().Ping(ctx).Err()
}
