package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"matchchat/internal/infrastructure/ratelimit"
	"matchchat/pkg/errors"
	"matchchat/pkg/logger"
	"matchchat/pkg/response"
)

// RateLimit throttles each authenticated user per action, falling back to the client IP.
func RateLimit(limiter *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := UserID(c)
			if key == "" {
				key = "ip:" + c.RealIP()
			}

			if ok, wait := limiter.Allow(key, action); !ok {
				logger.Warn("RATE LIMIT: %s blocked on %s (retry in %v)", key, action, wait)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded", wait))
			}
			return next(c)
		}
	}
}
