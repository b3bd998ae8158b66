package mysql

import (
	"context"
	"fmt"
	"strings"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"gorm.io/gorm"
)

// listingReaderImpl 只读房源查询
type listingReaderImpl struct {
	db *gorm.DB
}

func NewListingReader(db *gorm.DB) domain.ListingReader {
	return &listingReaderImpl{db: db}
}

// Find 与 domain.Filter.Matches 保持同一语义
func (r *listingReaderImpl) Find(ctx context.Context, q domain.ListingQuery) ([]*domain.Listing, error) {
	db := r.db.WithContext(ctx).Model(&ListingModel{}).
		Where("LOWER(status) IN ?", domain.LiveStatuses)

	f := q.Filter
	if f.PropertyType != nil {
		db = db.Where("property_type = ?", *f.PropertyType)
	}
	if f.ListingType != nil {
		db = db.Where("listing_type = ?", *f.ListingType)
	}
	if f.City != nil {
		db = db.Where("LOWER(city) LIKE ? ESCAPE '!'", "%"+escapeLike(strings.ToLower(*f.City))+"%")
	}
	if !q.IgnorePrice {
		if f.MinPrice != nil {
			db = db.Where("price >= ?", *f.MinPrice)
		}
		if f.MaxPrice != nil {
			db = db.Where("price <= ?", *f.MaxPrice)
		}
	}
	if f.Bedrooms != nil {
		db = db.Where("bedrooms = ?", *f.Bedrooms)
	}
	if q.CreatedFrom != nil {
		db = db.Where("created_at >= ?", q.CreatedFrom.UTC())
	}
	if q.CreatedBefore != nil {
		db = db.Where("created_at < ?", q.CreatedBefore.UTC())
	}
	if q.After != nil {
		at := q.After.CreatedAt.UTC()
		db = db.Where("(created_at < ? OR (created_at = ? AND id > ?))", at, at, q.After.ID)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	var ms []ListingModel
	if err := db.Order("created_at desc").Order("id asc").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}

	res := make([]*domain.Listing, len(ms))
	for i, m := range ms {
		res[i] = &domain.Listing{
			ID:           m.ID,
			Title:        m.Title,
			Price:        m.Price,
			PropertyType: m.PropertyType,
			ListingType:  m.ListingType,
			City:         m.City,
			Bedrooms:     m.Bedrooms,
			Status:       m.Status,
			CreatedAt:    m.CreatedAt,
		}
	}
	return res, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// escapeLike 转义 LIKE 通配符，与 strings.Contains 保持一致
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
