package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"solar-telemetry/internal/auth"
	"solar-telemetry/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(requestIDHeader, requestID)
		c.Set("request_id", requestID)

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		}
		if owner := auth.Owner(c); owner != "" {
			fields = append(fields, zap.String("owner_id", owner))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("Request failed", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("Request rejected", fields...)
		default:
			logger.Info("Request completed", fields...)
		}
	}
}

// observeRequests records request counts and latency labelled by route template.
func observeRequests(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// rateLimiter is a fixed-window limiter keyed by client address and stored in
// Redis. Redis errors let the request through.
func rateLimiter(cfg RateLimit) gin.HandlerFunc {
	const keyPrefix = "rl:"

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := keyPrefix + c.ClientIP()

		count, err := cfg.Client.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			cfg.Client.Expire(ctx, key, cfg.Window)
		}

		ttl, _ := cfg.Client.TTL(ctx, key).Result()
		reset := int(ttl.Seconds())
		if reset < 0 {
			reset = 0
		}
		remaining := cfg.Limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(reset))

		if count > int64(cfg.Limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"kind":    "rate_limited",
					"message": fmt.Sprintf("rate limit of %d per %s exceeded", cfg.Limit, cfg.Window),
				},
			})
			return
		}
		c.Next()
	}
}
