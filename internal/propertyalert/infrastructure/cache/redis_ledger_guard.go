// Package cache 提供台账前置的 Redis 去重
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/cache"
	"github.com/wyfcoding/propertyalert/pkg/logger"
)

const (
	ledgerKeyPrefix = "propertyalert:ledger:"
	// 覆盖一个自然日并留出时区余量
	ledgerKeyTTL = 36 * time.Hour
)

// RedisLedgerGuard 用 SetNX 拦截当天已发送的事件，数据库唯一索引仍是最终判定
type RedisLedgerGuard struct {
	next  domain.NotificationLedger
	redis *cache.RedisCache
	ttl   time.Duration
}

func NewRedisLedgerGuard(next domain.NotificationLedger, redis *cache.RedisCache) *RedisLedgerGuard {
	return &RedisLedgerGuard{next: next, redis: redis, ttl: ledgerKeyTTL}
}

// InsertIfAbsent Redis 不可用时直接走数据库
func (g *RedisLedgerGuard) InsertIfAbsent(ctx context.Context, e *domain.NotificationEvent) (bool, error) {
	key := ledgerKeyPrefix + e.IdempotencyKey()

	ok, err := g.redis.SetNX(ctx, key, strconv.FormatInt(e.ID, 10), g.ttl)
	if err != nil {
		logger.Warn(ctx, "ledger guard unavailable, falling back to database", "key", key, "error", err)
		return g.next.InsertIfAbsent(ctx, e)
	}
	if !ok {
		return false, nil
	}

	inserted, err := g.next.InsertIfAbsent(ctx, e)
	if err != nil {
		// 写库失败时释放 key，下一轮可重试
		if derr := g.redis.Delete(ctx, key); derr != nil {
			logger.Warn(ctx, "failed to release ledger guard key", "key", key, "error", derr)
		}
		return false, err
	}
	return inserted, nil
}

func (g *RedisLedgerGuard) UpdateDelivery(ctx context.Context, id int64, push, email domain.DeliveryStatus) error {
	return g.next.UpdateDelivery(ctx, id, push, email)
}

func (g *RedisLedgerGuard) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.NotificationEvent, int64, error) {
	return g.next.ListByUser(ctx, userID, limit, offset)
}
