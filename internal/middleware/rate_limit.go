package middleware

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/pkg/config"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

const rateLimitPrefix = "lms:ratelimit:"

// HitCounter counts requests per key in fixed windows.
type HitCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimit caps requests per client IP within cfg.Window. Probe endpoints are exempt and counter
// failures let the request through.
func RateLimit(counter HitCounter, cfg config.RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := strconv.Itoa(cfg.MaxRequests)
	return func(c *gin.Context) {
		if _, probe := probePaths[c.FullPath()]; probe || counter == nil || cfg.MaxRequests <= 0 {
			c.Next()
			return
		}

		count, resetIn, err := counter.Hit(c.Request.Context(), rateLimitPrefix+c.ClientIP(), cfg.Window)
		if err != nil {
			logger.Warn("rate limit counter unavailable", zap.String("client_ip", c.ClientIP()), zap.Error(err))
			c.Next()
			return
		}
		if count == 0 {
			c.Next()
			return
		}

		remaining := int64(cfg.MaxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		reset := strconv.Itoa(int(math.Ceil(resetIn.Seconds())))
		c.Header("RateLimit-Limit", limit)
		c.Header("RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("RateLimit-Reset", reset)

		if count > int64(cfg.MaxRequests) {
			c.Header("Retry-After", reset)
			response.Error(c, appErrors.ErrTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
