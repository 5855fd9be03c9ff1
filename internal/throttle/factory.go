package throttle

import (
	"log"

	"gitpress/internal/constants"
	"gitpress/internal/utils"
)

const (
	EnvRedisHost     = "REDIS_HOST"
	EnvRedisPort     = "REDIS_PORT"
	EnvRedisUser     = "REDIS_USERNAME"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// NewLimiter picks the redis backend when REDIS_HOST is set, falling back to
// the in-process limiter when redis is absent or unreachable.
func NewLimiter() Limiter {
	redisHost := utils.GetEnv(EnvRedisHost, "")

	if redisHost != "" {
		redisPort := utils.GetEnv(EnvRedisPort, "6379")
		redisUser := utils.GetEnv(EnvRedisUser, "")
		redisPassword := utils.GetEnv(EnvRedisPassword, "")

		limiter, err := NewRedisLimiter(redisHost, redisPort, redisUser, redisPassword,
			constants.MaxLoginAttempts, constants.LoginWindow)
		if err != nil {
			log.Printf("throttle: redis connection failed: %v", err)
			log.Println("throttle: falling back to in-memory attempt counters")
			return NewMemoryLimiter(constants.MaxLoginAttempts, constants.LoginWindow)
		}
		log.Printf("throttle: using redis attempt counters at %s:%s", redisHost, redisPort)
		return limiter
	}

	log.Println("throttle: using in-memory attempt counters")
	return NewMemoryLimiter(constants.MaxLoginAttempts, constants.LoginWindow)
}
