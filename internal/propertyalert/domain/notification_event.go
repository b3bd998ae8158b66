package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind 提醒事件类型
type EventKind string

const (
	EventKindNewMatch  EventKind = "new_match"  // 新上架匹配
	EventKindPriceDrop EventKind = "price_drop" // 降价
)

// DeliveryStatus 单个渠道的投递状态
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryExpired   DeliveryStatus = "expired"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySkipped   DeliveryStatus = "skipped"
)

// DayLayout 幂等键中自然日的格式
const DayLayout = "2006-01-02"

// DayKey 按指定时区取自然日
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// PriceDropMetadata 降价事件附加信息
type PriceDropMetadata struct {
	OldPrice    decimal.Decimal `json:"old_price"`
	NewPrice    decimal.Decimal `json:"new_price"`
	DropPercent decimal.Decimal `json:"drop_percent"`
}

// NotificationEvent 台账记录，(UserID, Kind, ListingID, Day) 唯一
type NotificationEvent struct {
	ID             int64
	UserID         string
	SubscriptionID uint64
	Kind           EventKind
	ListingID      string
	Title          string
	Message        string
	// Metadata 仅降价事件有值
	Metadata    *PriceDropMetadata
	Day         string
	PushStatus  DeliveryStatus
	EmailStatus DeliveryStatus
	CreatedAt   time.Time
}

// IdempotencyKey 幂等键
func (e *NotificationEvent) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", e.UserID, e.Kind, e.ListingID, e.Day)
}

// PriceBaseline 每个 (订阅, 房源) 首次看到的价格与最近一次提醒的价格
type PriceBaseline struct {
	SubscriptionID    uint64
	ListingID         string
	FirstSeenPrice    decimal.Decimal
	LastNotifiedPrice *decimal.Decimal
	FirstSeenAt       time.Time
	UpdatedAt         time.Time
}

// Reference 降价比较的参考价
func (b *PriceBaseline) Reference() decimal.Decimal {
	if b.LastNotifiedPrice != nil {
		return *b.LastNotifiedPrice
	}
	return b.FirstSeenPrice
}

// InteractionRecord 客户端通知交互埋点
type InteractionRecord struct {
	ID             uint64
	NotificationID string
	Type           string
	Action         string
	Timestamp      time.Time
	ReceivedAt     time.Time
	UserAgent      string
}
