package domain

import (
	"context"
	"time"
)

const (
	// AlertDispatchedEventType 提醒已投递
	AlertDispatchedEventType = "property_alert.dispatched"
	// InteractionRecordedEventType 客户端交互已记录
	InteractionRecordedEventType = "property_alert.interaction_recorded"
)

// AlertDispatchedEvent 提醒投递完成事件
type AlertDispatchedEvent struct {
	EventID        int64
	UserID         string
	SubscriptionID uint64
	Kind           EventKind
	ListingID      string
	PushStatus     DeliveryStatus
	EmailStatus    DeliveryStatus
	OccurredOn     time.Time
}

// InteractionRecordedEvent 客户端交互事件
type InteractionRecordedEvent struct {
	NotificationID string
	Type           string
	Action         string
	Timestamp      int64
	OccurredOn     time.Time
}

// EventPublisher 事件发布者接口
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, key string, event any) error
}
