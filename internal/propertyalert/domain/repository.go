package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionRepository 订阅存储
type SubscriptionRepository interface {
	Save(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id uint64) (*Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	// ListActive 返回所有启用的订阅；筛选条件解析失败的记录设置 FilterErr 后照常返回
	ListActive(ctx context.Context) ([]*Subscription, error)
	// UpdateLastChecked 仅当新水位更大时更新
	UpdateLastChecked(ctx context.Context, id uint64, at time.Time) error
	// SetPushCredential cred 为 nil 时关闭推送通道
	SetPushCredential(ctx context.Context, id uint64, cred *PushCredential) error
	// ClearPushEndpoint 仅当当前 endpoint 仍为 endpoint 时清除推送凭证，返回是否清除
	ClearPushEndpoint(ctx context.Context, id uint64, endpoint string) (bool, error)
	SetEmailEnabled(ctx context.Context, id uint64, enabled bool) error
	Deactivate(ctx context.Context, id uint64) error
}

// ListingReader 房源查询
type ListingReader interface {
	// Find 返回在售且满足条件的房源，按创建时间倒序
	Find(ctx context.Context, q ListingQuery) ([]*Listing, error)
}

// NotificationLedger 已发送提醒台账
type NotificationLedger interface {
	// InsertIfAbsent 原子写入；幂等键冲突时返回 false 且不报错
	InsertIfAbsent(ctx context.Context, event *NotificationEvent) (bool, error)
	UpdateDelivery(ctx context.Context, id int64, push, email DeliveryStatus) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*NotificationEvent, int64, error)
}

// PriceBaselineRepository 价格基线存储
type PriceBaselineRepository interface {
	ListBySubscription(ctx context.Context, subscriptionID uint64, listingIDs []string) (map[string]*PriceBaseline, error)
	// RecordFirstSeen 已存在的基线保持不变
	RecordFirstSeen(ctx context.Context, baselines []*PriceBaseline) error
	MarkNotified(ctx context.Context, subscriptionID uint64, listingID string, price decimal.Decimal) error
}

// InteractionRepository 交互埋点存储
type InteractionRepository interface {
	Save(ctx context.Context, rec *InteractionRecord) error
}

// PushSender 推送通道；error 仅用于日志，结果以 DeliveryResult 为准
type PushSender interface {
	Send(ctx context.Context, cred PushCredential, payload PushPayload) (DeliveryResult, error)
}

// EmailSender 邮件通道
type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) error
}
