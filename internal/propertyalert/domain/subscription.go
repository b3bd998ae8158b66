// Package domain 房源提醒的领域模型与仓储接口
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Filter 订阅的搜索条件，nil 字段表示不限
type Filter struct {
	PropertyType *string          `json:"property_type,omitempty"`
	ListingType  *string          `json:"listing_type,omitempty"`
	City         *string          `json:"city,omitempty"`
	MinPrice     *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice     *decimal.Decimal `json:"max_price,omitempty"`
	Bedrooms     *int             `json:"bedrooms,omitempty"`
}

// ParseFilter 解析 JSON 格式的筛选条件
func ParseFilter(raw string) (Filter, error) {
	var f Filter
	if strings.TrimSpace(raw) == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Filter{}, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

// Encode 序列化为 JSON
func (f Filter) Encode() (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Normalize 去除空白，空字符串视为不限
func (f Filter) Normalize() Filter {
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := strings.TrimSpace(*s)
		if v == "" {
			return nil
		}
		return &v
	}
	f.PropertyType = trim(f.PropertyType)
	f.ListingType = trim(f.ListingType)
	f.City = trim(f.City)
	return f
}

// Validate 校验价格区间与卧室数
func (f Filter) Validate() error {
	if f.MinPrice != nil && f.MinPrice.IsNegative() {
		return fmt.Errorf("%w: min_price must not be negative", ErrInvalidFilter)
	}
	if f.MaxPrice != nil && !f.MaxPrice.IsPositive() {
		return fmt.Errorf("%w: max_price must be positive", ErrInvalidFilter)
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return fmt.Errorf("%w: min_price %s exceeds max_price %s", ErrInvalidFilter, f.MinPrice, f.MaxPrice)
	}
	if f.Bedrooms != nil && *f.Bedrooms < 0 {
		return fmt.Errorf("%w: bedrooms must not be negative", ErrInvalidFilter)
	}
	return nil
}

// WithoutPrice 去掉价格条件
func (f Filter) WithoutPrice() Filter {
	f.MinPrice = nil
	f.MaxPrice = nil
	return f
}

// Matches 判断房源是否满足全部非空条件（与 SQL 查询条件一致）
func (f Filter) Matches(l *Listing) bool {
	if f.PropertyType != nil && l.PropertyType != *f.PropertyType {
		return false
	}
	if f.ListingType != nil && l.ListingType != *f.ListingType {
		return false
	}
	if f.City != nil && !strings.Contains(strings.ToLower(l.City), strings.ToLower(*f.City)) {
		return false
	}
	if f.MinPrice != nil && l.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && l.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.Bedrooms != nil && l.Bedrooms != *f.Bedrooms {
		return false
	}
	return true
}

// PushCredential Web Push 订阅凭证
type PushCredential struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Validate 校验凭证字段
func (c *PushCredential) Validate() error {
	if c == nil || c.Endpoint == "" || c.P256dh == "" || c.Auth == "" {
		return ErrInvalidPushCredential
	}
	if !strings.HasPrefix(c.Endpoint, "https://") && !strings.HasPrefix(c.Endpoint, "http://") {
		return fmt.Errorf("%w: endpoint must be an http(s) url", ErrInvalidPushCredential)
	}
	return nil
}

// Subscription 用户保存的搜索及投递偏好
type Subscription struct {
	ID     uint64
	UserID string
	Email  string
	Filter Filter
	// FilterErr 存储的筛选条件无法解析时非空，本轮跳过该订阅
	FilterErr      error
	PushCredential *PushCredential
	EmailEnabled   bool
	LastCheckedAt  time.Time
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PushEnabled 推送通道是否可用
func (s *Subscription) PushEnabled() bool {
	return s.PushCredential != nil
}

// EmailChannelEnabled 邮件通道是否可用
func (s *Subscription) EmailChannelEnabled() bool {
	return s.EmailEnabled && s.Email != ""
}

// Evaluable 返回订阅本轮不可处理的原因
func (s *Subscription) Evaluable() error {
	if !s.Active {
		return ErrSubscriptionInactive
	}
	if s.FilterErr != nil {
		return s.FilterErr
	}
	return nil
}

// AdvanceWatermark 水位只前进不后退
func (s *Subscription) AdvanceWatermark(now time.Time) time.Time {
	if now.After(s.LastCheckedAt) {
		s.LastCheckedAt = now
	}
	return s.LastCheckedAt
}
