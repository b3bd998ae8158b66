package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type priceBaselineRepositoryImpl struct {
	db *gorm.DB
}

func NewPriceBaselineRepository(db *gorm.DB) domain.PriceBaselineRepository {
	return &priceBaselineRepositoryImpl{db: db}
}

func (r *priceBaselineRepositoryImpl) ListBySubscription(ctx context.Context, subscriptionID uint64, listingIDs []string) (map[string]*domain.PriceBaseline, error) {
	res := make(map[string]*domain.PriceBaseline, len(listingIDs))
	if len(listingIDs) == 0 {
		return res, nil
	}

	var ms []PriceBaselineModel
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND listing_id IN ?", subscriptionID, listingIDs).
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list price baselines: %w", err)
	}

	for _, m := range ms {
		b := &domain.PriceBaseline{
			SubscriptionID: m.SubscriptionID,
			ListingID:      m.ListingID,
			FirstSeenPrice: m.FirstSeenPrice,
			FirstSeenAt:    m.FirstSeenAt,
			UpdatedAt:      m.UpdatedAt,
		}
		if m.LastNotifiedPrice.Valid {
			p := m.LastNotifiedPrice.Decimal
			b.LastNotifiedPrice = &p
		}
		res[m.ListingID] = b
	}
	return res, nil
}

// RecordFirstSeen 批量写入，已有基线不覆盖
func (r *priceBaselineRepositoryImpl) RecordFirstSeen(ctx context.Context, baselines []*domain.PriceBaseline) error {
	if len(baselines) == 0 {
		return nil
	}
	ms := make([]PriceBaselineModel, len(baselines))
	for i, b := range baselines {
		ms[i] = PriceBaselineModel{
			SubscriptionID: b.SubscriptionID,
			ListingID:      b.ListingID,
			FirstSeenPrice: b.FirstSeenPrice,
			FirstSeenAt:    b.FirstSeenAt.UTC(),
			UpdatedAt:      b.UpdatedAt.UTC(),
		}
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ms).Error
	if err != nil {
		return fmt.Errorf("failed to record price baselines: %w", err)
	}
	return nil
}

// MarkNotified 记录本次提醒的价格，下一次降价以此为参考
func (r *priceBaselineRepositoryImpl) MarkNotified(ctx context.Context, subscriptionID uint64, listingID string, price decimal.Decimal) error {
	now := time.Now().UTC()
	m := &PriceBaselineModel{
		SubscriptionID:    subscriptionID,
		ListingID:         listingID,
		FirstSeenPrice:    price,
		LastNotifiedPrice: decimal.NewNullDecimal(price),
		FirstSeenAt:       now,
		UpdatedAt:         now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "listing_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_notified_price", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("failed to mark price baseline notified: %w", err)
	}
	return nil
}
