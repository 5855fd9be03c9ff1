package throttle

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"gitpress/internal/constants"
)

// RedisLimiter counts attempts in a shared redis instance so every server
// instance observes the same window. The key expires with the window, redis
// handles the reset.
type RedisLimiter struct {
	client      *redis.Client
	maxAttempts int
	windowSize  time.Duration
}

func NewRedisLimiter(host, port, username, password string, maxAttempts int, windowSize time.Duration) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Username: username,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisLimiter{
		client:      client,
		maxAttempts: maxAttempts,
		windowSize:  windowSize,
	}, nil
}

// Allow increments the per-source counter and anchors the window expiry on
// the first attempt. Redis errors fail open: an unreachable counter store
// must not lock the administrator out.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := constants.ThrottleKeyPrefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		log.Printf("throttle: redis incr failed: %v", err)
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.windowSize).Err(); err != nil {
			log.Printf("throttle: redis expire failed: %v", err)
		}
	}

	return count <= int64(l.maxAttempts), nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
