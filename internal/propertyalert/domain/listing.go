package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LiveStatuses 视为在售的房源状态
var LiveStatuses = []string{"active", "available"}

// Listing 房源（外部只读数据）
type Listing struct {
	ID           string
	Title        string
	Price        decimal.Decimal
	PropertyType string
	ListingType  string
	City         string
	Bedrooms     int
	Status       string
	CreatedAt    time.Time
}

// IsLive 是否在售
func (l *Listing) IsLive() bool {
	for _, s := range LiveStatuses {
		if strings.EqualFold(l.Status, s) {
			return true
		}
	}
	return false
}

// ListingQuery 房源查询条件
type ListingQuery struct {
	Filter Filter
	// IgnorePrice 为 true 时不使用价格区间（降价扫描）
	IgnorePrice bool
	// CreatedFrom 创建时间下界（含）
	CreatedFrom *time.Time
	// CreatedBefore 创建时间上界（不含）
	CreatedBefore *time.Time
	// After 键集分页游标，返回排在游标之后的记录
	After *ListingCursor
	Limit int
}

// ListingCursor 按 (created_at desc, id asc) 排序的分页位置
type ListingCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf 以房源自身位置作为下一页游标
func CursorOf(l *Listing) *ListingCursor {
	return &ListingCursor{CreatedAt: l.CreatedAt, ID: l.ID}
}
