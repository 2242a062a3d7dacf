package middleware

import (
	"fmt"

	"responder_server/pkg/apperr"
	"responder_server/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
)

// RateLimit throttles requests per client IP using the sliding window
// limiter. Denied requests get a 429 with a Retry-After header.
func RateLimit(limiter *ratelimit.SlidingWindowLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, wait := limiter.Allow(c.Context(), c.IP())
		if !allowed {
			seconds := int(wait.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Set("Retry-After", fmt.Sprintf("%d", seconds))
			return apperr.New(apperr.CodeRateLimited, "too many requests", fiber.StatusTooManyRequests)
		}
		return c.Next()
	}
}
