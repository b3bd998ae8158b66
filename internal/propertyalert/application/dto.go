package application

import (
	"time"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
)

type CreateSubscriptionCommand struct {
	UserID         string
	Email          string
	Filter         domain.Filter
	EmailEnabled   bool
	PushCredential *domain.PushCredential
}

// RegisterPushCommand 浏览器 PushSubscription.toJSON() 的结构
type RegisterPushCommand struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (c RegisterPushCommand) Credential() domain.PushCredential {
	return domain.PushCredential{Endpoint: c.Endpoint, P256dh: c.Keys.P256dh, Auth: c.Keys.Auth}
}

type RecordInteractionCommand struct {
	NotificationID string
	Type           string
	Action         string
	// Timestamp 客户端毫秒时间戳
	Timestamp int64
	UserAgent string
}

type SubscriptionDTO struct {
	ID            uint64        `json:"id"`
	UserID        string        `json:"user_id"`
	Email         string        `json:"email,omitempty"`
	Filter        domain.Filter `json:"filter"`
	FilterError   string        `json:"filter_error,omitempty"`
	PushEnabled   bool          `json:"push_enabled"`
	EmailEnabled  bool          `json:"email_enabled"`
	Active        bool          `json:"active"`
	LastCheckedAt time.Time     `json:"last_checked_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

type NotificationEventDTO struct {
	ID             string                    `json:"id"`
	UserID         string                    `json:"user_id"`
	SubscriptionID uint64                    `json:"subscription_id"`
	Kind           string                    `json:"kind"`
	ListingID      string                    `json:"listing_id"`
	Title          string                    `json:"title"`
	Message        string                    `json:"message"`
	Metadata       *domain.PriceDropMetadata `json:"metadata,omitempty"`
	Day            string                    `json:"day"`
	PushStatus     string                    `json:"push_status"`
	EmailStatus    string                    `json:"email_status"`
	CreatedAt      time.Time                 `json:"created_at"`
}

type ListingDTO struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Price        string    `json:"price"`
	PriceLabel   string    `json:"price_label"`
	PropertyType string    `json:"property_type"`
	ListingType  string    `json:"listing_type"`
	City         string    `json:"city"`
	Bedrooms     int       `json:"bedrooms"`
	CreatedAt    time.Time `json:"created_at"`
}

func toSubscriptionDTO(s *domain.Subscription) *SubscriptionDTO {
	dto := &SubscriptionDTO{
		ID:            s.ID,
		UserID:        s.UserID,
		Email:         s.Email,
		Filter:        s.Filter,
		PushEnabled:   s.PushEnabled(),
		EmailEnabled:  s.EmailEnabled,
		Active:        s.Active,
		LastCheckedAt: s.LastCheckedAt,
		CreatedAt:     s.CreatedAt,
	}
	if s.FilterErr != nil {
		dto.FilterError = s.FilterErr.Error()
	}
	return dto
}

func toNotificationEventDTO(e *domain.NotificationEvent) *NotificationEventDTO {
	return &NotificationEventDTO{
		ID:             formatEventID(e.ID),
		UserID:         e.UserID,
		SubscriptionID: e.SubscriptionID,
		Kind:           string(e.Kind),
		ListingID:      e.ListingID,
		Title:          e.Title,
		Message:        e.Message,
		Metadata:       e.Metadata,
		Day:            e.Day,
		PushStatus:     string(e.PushStatus),
		EmailStatus:    string(e.EmailStatus),
		CreatedAt:      e.CreatedAt,
	}
}

func toListingDTO(l *domain.Listing, locale string) *ListingDTO {
	return &ListingDTO{
		ID:           l.ID,
		Title:        l.Title,
		Price:        l.Price.String(),
		PriceLabel:   FormatPriceShort(l.Price, locale),
		PropertyType: l.PropertyType,
		ListingType:  l.ListingType,
		City:         l.City,
		Bedrooms:     l.Bedrooms,
		CreatedAt:    l.CreatedAt,
	}
}
