// README: Redis client initialization for rate caching and event fan-out.
package infra

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedis returns a lazily connecting client; callers that need Redis up front should Ping.
func NewRedis(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}
