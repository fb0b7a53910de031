package api

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/metrics"
)

const adminKeyHeader = "X-Admin-Key"

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeOf(c)
		metrics.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"route":      routeOf(c),
			"status":     c.Writer.Status(),
			"durationMs": time.Since(start).Milliseconds(),
			"clientIp":   c.ClientIP(),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request failed", fields)
		case c.FullPath() == "/health" || c.FullPath() == "/metrics":
			log.Debug("request served", fields)
		default:
			log.Info("request served", fields)
		}
	}
}

// adminAuth requires the configured key in X-Admin-Key. With no key
// configured every admin request is refused.
func adminAuth(key string, log logger.Logger) gin.HandlerFunc {
	if key == "" {
		log.Warn("admin API key not configured, admin routes are disabled", nil)
	}
	return func(c *gin.Context) {
		given := c.GetHeader(adminKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(apperrors.ErrorCode("UNAUTHORIZED"), "missing or invalid admin key"))
			return
		}
		c.Next()
	}
}

// rateLimit counts lookups per client address. Limiter failures let the
// request through.
func rateLimit(limiter RateLimiter, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		d, err := limiter.Allow(c.Request.Context(), "lookup:"+c.ClientIP())
		if err != nil {
			log.Warn("rate limiter unavailable", map[string]interface{}{"error": err.Error()})
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			metrics.RateLimited.WithLabelValues(routeOf(c)).Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody(apperrors.ErrorCode("RATE_LIMITED"), "too many requests, try again later"))
			return
		}
		c.Next()
	}
}
