package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/propertyalert/pkg/config"
	"github.com/wyfcoding/propertyalert/pkg/logger"
	"github.com/wyfcoding/propertyalert/pkg/ratelimit"
)

// RateLimit 按客户端 IP 与接口维度限流；限流器故障时放行
func RateLimit(limiter ratelimit.RateLimiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	limits := map[ratelimit.Scope]ratelimit.Limit{
		ratelimit.ScopeAPI:          ratelimit.PerSecond(cfg.QPS, cfg.Burst),
		ratelimit.ScopeInteractions: ratelimit.PerSecond(cfg.InteractionQPS, cfg.InteractionBurst),
	}
	// 未配置埋点限额时沿用通用限额
	if cfg.InteractionQPS <= 0 {
		limits[ratelimit.ScopeInteractions] = limits[ratelimit.ScopeAPI]
	}

	return func(c *gin.Context) {
		if !cfg.Enabled || limiter == nil {
			c.Next()
			return
		}

		scope := ratelimit.ScopeForPath(c.Request.URL.Path)
		limit := limits[scope]
		res, err := limiter.Allow(c.Request.Context(), ratelimit.Key(scope, c.ClientIP()), limit)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "scope", scope, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(res.RetryAfter/time.Second)+1, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
