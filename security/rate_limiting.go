package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Rate limiting middleware for scan and check-in endpoints. A gate scanner
// in normal operation produces well under one attempt per second; anything
// faster is a replay loop or a misbehaving client.
func (r *RateLimiter) ScanRateLimit() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		identifier := e.RealIP()
		if deviceID := e.Request.Header.Get("X-Device-Id"); deviceID != "" {
			identifier = fmt.Sprintf("device:%s", deviceID)
		}

		key := fmt.Sprintf("ratelimit:scan:%s", identifier)
		count, err := r.redis.Incr(context.Background(), key).Result()
		if err == nil {
			if count == 1 {
				r.redis.Expire(context.Background(), key, time.Minute)
			}
			if count > 60 { // Max 60 scans per minute per device
				return e.JSON(429, map[string]string{
					"error": "Rate limit exceeded. Please try again later.",
				})
			}
		}

		return e.Next()
	}
}

// Anti-bot protection for the public issuance endpoint
func (r *RateLimiter) AntiBotMiddleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		userAgent := e.Request.Header.Get("User-Agent")
		if r.isSuspiciousUserAgent(userAgent) {
			return e.JSON(403, map[string]string{
				"error": "Access denied",
			})
		}

		ip := e.RealIP()
		key := fmt.Sprintf("antibot:%s", ip)

		count, err := r.redis.Incr(context.Background(), key).Result()
		if err == nil {
			if count == 1 {
				r.redis.Expire(context.Background(), key, time.Minute)
			}
			if count > 30 { // Max 30 requests per minute
				return e.JSON(429, map[string]string{
					"error": "Too many requests",
				})
			}
		}

		return e.Next()
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
