package application

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
)

// AlertQuery 处理只读查询
type AlertQuery struct {
	subs       domain.SubscriptionRepository
	ledger     domain.NotificationLedger
	matcher    *MatchingEngine
	maxMatches int
	locale     string
	clock      func() time.Time
}

func NewAlertQuery(subs domain.SubscriptionRepository, ledger domain.NotificationLedger, matcher *MatchingEngine, maxMatches int, locale string) *AlertQuery {
	return &AlertQuery{subs: subs, ledger: ledger, matcher: matcher, maxMatches: maxMatches, locale: locale, clock: time.Now}
}

func (q *AlertQuery) GetSubscription(ctx context.Context, id uint64) (*SubscriptionDTO, error) {
	sub, err := q.subs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toSubscriptionDTO(sub), nil
}

func (q *AlertQuery) ListSubscriptions(ctx context.Context, userID string) ([]*SubscriptionDTO, error) {
	subs, err := q.subs.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := make([]*SubscriptionDTO, len(subs))
	for i, s := range subs {
		res[i] = toSubscriptionDTO(s)
	}
	return res, nil
}

// GetNotificationHistory 获取用户的提醒台账
func (q *AlertQuery) GetNotificationHistory(ctx context.Context, userID string, limit, offset int) ([]*NotificationEventDTO, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	events, total, err := q.ledger.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	res := make([]*NotificationEventDTO, len(events))
	for i, e := range events {
		res[i] = toNotificationEventDTO(e)
	}
	return res, total, nil
}

// Preview 按当前水位预览新房源，不写台账也不推进水位
func (q *AlertQuery) Preview(ctx context.Context, id uint64) ([]*ListingDTO, error) {
	sub, err := q.subs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.FilterErr != nil {
		return nil, sub.FilterErr
	}
	listings, err := q.matcher.FindNewMatches(ctx, sub.Filter, sub.LastCheckedAt, q.clock(), q.maxMatches)
	if err != nil {
		return nil, fmt.Errorf("failed to preview subscription %d: %w", id, err)
	}
	res := make([]*ListingDTO, len(listings))
	for i, l := range listings {
		res[i] = toListingDTO(l, q.locale)
	}
	return res, nil
}
