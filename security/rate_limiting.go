package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis        *redis.Client
	maxPerMinute int64
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis:        redisClient,
		maxPerMinute: 30,
	}
}

// QueueRateLimit caps queue operations per client IP using a fixed
// one-minute window in Redis. Counter errors fail open: admission keeps
// working when Redis hiccups on this path.
func (r *RateLimiter) QueueRateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ua := c.Request().Header.Get("User-Agent"); r.isSuspiciousUserAgent(ua) {
				return c.JSON(403, map[string]string{
					"error": "Access denied",
				})
			}

			ctx := c.Request().Context()
			key := fmt.Sprintf("ratelimit:queue:%s", c.RealIP())

			count, err := r.redis.Incr(ctx, key).Result()
			if err == nil {
				if count == 1 {
					r.redis.Expire(ctx, key, time.Minute)
				}
				if count > r.maxPerMinute {
					return c.JSON(429, map[string]string{
						"error": "Rate limit exceeded. Please try again later.",
					})
				}
			}

			return next(c)
		}
	}
}

func (r *RateLimiter) isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
