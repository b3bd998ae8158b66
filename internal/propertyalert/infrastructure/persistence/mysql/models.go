// Package mysql 提供房源提醒仓储接口的 GORM 实现（MySQL / PostgreSQL / SQLite 通用）
package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SubscriptionModel 订阅表
type SubscriptionModel struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID        string    `gorm:"column:user_id;type:varchar(64);index;not null"`
	Email         string    `gorm:"column:email;type:varchar(255)"`
	Filter        string    `gorm:"column:filter;type:text"`
	PushEndpoint  *string   `gorm:"column:push_endpoint;type:text"`
	PushP256dh    *string   `gorm:"column:push_p256dh;type:varchar(255)"`
	PushAuth      *string   `gorm:"column:push_auth;type:varchar(255)"`
	EmailEnabled  bool      `gorm:"column:email_enabled;not null"`
	LastCheckedAt time.Time `gorm:"column:last_checked_at;not null"`
	Active        bool      `gorm:"column:active;index;not null"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (SubscriptionModel) TableName() string {
	return "property_alert_subscriptions"
}

// ListingModel 房源表，由上游业务维护，本服务只读
type ListingModel struct {
	ID           string          `gorm:"column:id;type:varchar(64);primaryKey"`
	Title        string          `gorm:"column:title;type:varchar(255)"`
	Price        decimal.Decimal `gorm:"column:price;type:decimal(20,2);not null"`
	PropertyType string          `gorm:"column:property_type;type:varchar(32);index"`
	ListingType  string          `gorm:"column:listing_type;type:varchar(32)"`
	City         string          `gorm:"column:city;type:varchar(128)"`
	Bedrooms     int             `gorm:"column:bedrooms"`
	Status       string          `gorm:"column:status;type:varchar(20);index"`
	CreatedAt    time.Time       `gorm:"column:created_at;index"`
}

func (ListingModel) TableName() string {
	return "listings"
}

// NotificationEventModel 提醒台账，(user_id, kind, listing_id, day) 唯一
type NotificationEventModel struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	UserID         string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:uk_alert_event_key,priority:1;index:idx_alert_event_user"`
	Kind           string    `gorm:"column:kind;type:varchar(20);not null;uniqueIndex:uk_alert_event_key,priority:2"`
	ListingID      string    `gorm:"column:listing_id;type:varchar(64);not null;uniqueIndex:uk_alert_event_key,priority:3"`
	Day            string    `gorm:"column:day;type:varchar(10);not null;uniqueIndex:uk_alert_event_key,priority:4"`
	SubscriptionID uint64    `gorm:"column:subscription_id;index;not null"`
	Title          string    `gorm:"column:title;type:varchar(255)"`
	Message        string    `gorm:"column:message;type:text"`
	Metadata       string    `gorm:"column:metadata;type:text"`
	PushStatus     string    `gorm:"column:push_status;type:varchar(20);not null"`
	EmailStatus    string    `gorm:"column:email_status;type:varchar(20);not null"`
	CreatedAt      time.Time `gorm:"column:created_at;index:idx_alert_event_user"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (NotificationEventModel) TableName() string {
	return "property_alert_events"
}

// PriceBaselineModel 价格基线表
type PriceBaselineModel struct {
	ID                uint64              `gorm:"column:id;primaryKey;autoIncrement"`
	SubscriptionID    uint64              `gorm:"column:subscription_id;not null;uniqueIndex:uk_price_baseline,priority:1"`
	ListingID         string              `gorm:"column:listing_id;type:varchar(64);not null;uniqueIndex:uk_price_baseline,priority:2"`
	FirstSeenPrice    decimal.Decimal     `gorm:"column:first_seen_price;type:decimal(20,2);not null"`
	LastNotifiedPrice decimal.NullDecimal `gorm:"column:last_notified_price;type:decimal(20,2)"`
	FirstSeenAt       time.Time           `gorm:"column:first_seen_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at"`
}

func (PriceBaselineModel) TableName() string {
	return "property_alert_price_baselines"
}

// InteractionModel 客户端交互埋点表
type InteractionModel struct {
	ID             uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	NotificationID string    `gorm:"column:notification_id;type:varchar(64);index;not null"`
	Type           string    `gorm:"column:type;type:varchar(32);not null"`
	Action         string    `gorm:"column:action;type:varchar(32);not null"`
	Timestamp      time.Time `gorm:"column:timestamp"`
	ReceivedAt     time.Time `gorm:"column:received_at"`
	UserAgent      string    `gorm:"column:user_agent;type:varchar(255)"`
}

func (InteractionModel) TableName() string {
	return "property_alert_interactions"
}

// AutoMigrate 迁移本服务拥有的表；withListings 仅用于本地与测试环境
func AutoMigrate(db *gorm.DB, withListings bool) error {
	models := []any{
		&SubscriptionModel{},
		&NotificationEventModel{},
		&PriceBaselineModel{},
		&InteractionModel{},
	}
	if withListings {
		models = append(models, &ListingModel{})
	}
	return db.AutoMigrate(models...)
}
