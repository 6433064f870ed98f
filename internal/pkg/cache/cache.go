// Package cache holds the shared Redis connection used for the per-order
// advisory locks and the provider counters.
package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kassaflow/kassaflow/internal/pkg/env"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache connects the process-wide Redis client. A failed ping is logged
// but not fatal; lock acquisition reports errors at the call site.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port),
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	} else {
		log.Printf("Connected to Redis cache: %s", pong)
	}
}

// GetClient returns the Redis client instance, connecting lazily.
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// AcquireLock sets an expiring advisory lock key. Returns true when this
// caller obtained the lock.
func AcquireLock(key, owner string, ttl time.Duration) (bool, error) {
	return GetClient().SetNX(ctx, key, owner, ttl).Result()
}

// ReleaseLock removes an advisory lock if it is still held by owner.
func ReleaseLock(key, owner string) error {
	val, err := GetClient().Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val != owner {
		return nil
	}
	return GetClient().Del(ctx, key).Err()
}
