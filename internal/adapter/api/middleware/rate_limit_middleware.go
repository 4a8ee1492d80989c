package middleware

import (
	"github.com/labstack/echo/v4"

	"swapmarket/internal/infrastructure/ratelimit"
	"swapmarket/pkg/logger"
	"swapmarket/pkg/response"
)

// RateLimit throttles action per authenticated user, falling back to the
// client IP for anonymous requests.
func RateLimit(limiter *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if uid, ok := c.Get("uid").(string); ok && uid != "" {
				key = uid
			}

			allowed, retryAfter := limiter.Allow(key, action)
			if !allowed {
				logger.Warn("RATE LIMIT: %s blocked on %s (retry in %v)", key, action, retryAfter)
				return response.TooManyRequests(c, retryAfter)
			}

			return next(c)
		}
	}
}
