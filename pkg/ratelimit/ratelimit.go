// Package ratelimit 提供基于 Redis 的分布式限流
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix 限流键前缀
const KeyPrefix = "propertyalert:ratelimit:"

// Scope 限流维度，不同维度独立计数
type Scope string

const (
	// ScopeAPI 订阅管理等普通接口
	ScopeAPI Scope = "api"
	// ScopeInteractions 客户端交互埋点，流量随推送量突增
	ScopeInteractions Scope = "interactions"
)

// ScopeForPath 按请求路径归类
func ScopeForPath(path string) Scope {
	if strings.HasSuffix(strings.TrimRight(path, "/"), "/interactions") {
		return ScopeInteractions
	}
	return ScopeAPI
}

// Key 生成 scope + 客户端维度的限流键
func Key(scope Scope, subject string) string {
	return KeyPrefix + string(scope) + ":" + subject
}

// PerSecond 每秒 rate 次、突发 burst；burst 未配置时取 rate
func PerSecond(rate, burst int) Limit {
	if burst <= 0 {
		burst = rate
	}
	return Limit{Rate: rate, Period: time.Second, Burst: burst}
}

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 限流规则
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// Result 限流检查结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisRateLimiter 基于 redis_rate 的 GCRA 限流实现
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建 RedisRateLimiter
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
	}
}

// Allow 检查请求是否放行
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}
