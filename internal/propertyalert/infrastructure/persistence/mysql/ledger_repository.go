package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ledgerRepositoryImpl 以唯一索引实现原子的 insert-if-absent
type ledgerRepositoryImpl struct {
	db *gorm.DB
}

func NewNotificationLedger(db *gorm.DB) domain.NotificationLedger {
	return &ledgerRepositoryImpl{db: db}
}

// InsertIfAbsent 冲突时不写入，RowsAffected 为 0 即视为今日已发送
func (r *ledgerRepositoryImpl) InsertIfAbsent(ctx context.Context, e *domain.NotificationEvent) (bool, error) {
	m, err := r.toModel(e)
	if err != nil {
		return false, err
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		logger.Error(ctx, "ledger.InsertIfAbsent failed", "key", e.IdempotencyKey(), "error", res.Error)
		return false, fmt.Errorf("failed to insert notification event: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *ledgerRepositoryImpl) UpdateDelivery(ctx context.Context, id int64, push, email domain.DeliveryStatus) error {
	err := r.db.WithContext(ctx).Model(&NotificationEventModel{}).Where("id = ?", id).
		Updates(map[string]any{
			"push_status":  string(push),
			"email_status": string(email),
			"updated_at":   time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update delivery status: %w", err)
	}
	return nil
}

func (r *ledgerRepositoryImpl) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.NotificationEvent, int64, error) {
	var ms []NotificationEventModel
	var total int64
	db := r.db.WithContext(ctx).Model(&NotificationEventModel{}).Where("user_id = ?", userID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("created_at desc").Order("id desc").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		logger.Error(ctx, "ledger.ListByUser failed", "user_id", userID, "error", err)
		return nil, 0, fmt.Errorf("failed to list notification events by user: %w", err)
	}

	res := make([]*domain.NotificationEvent, len(ms))
	for i := range ms {
		res[i] = r.toDomain(ctx, &ms[i])
	}
	return res, total, nil
}

func (r *ledgerRepositoryImpl) toModel(e *domain.NotificationEvent) (*NotificationEventModel, error) {
	var metadata string
	if e.Metadata != nil {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event metadata: %w", err)
		}
		metadata = string(data)
	}
	created := e.CreatedAt.UTC()
	return &NotificationEventModel{
		ID:             e.ID,
		UserID:         e.UserID,
		Kind:           string(e.Kind),
		ListingID:      e.ListingID,
		Day:            e.Day,
		SubscriptionID: e.SubscriptionID,
		Title:          e.Title,
		Message:        e.Message,
		Metadata:       metadata,
		PushStatus:     string(e.PushStatus),
		EmailStatus:    string(e.EmailStatus),
		CreatedAt:      created,
		UpdatedAt:      created,
	}, nil
}

func (r *ledgerRepositoryImpl) toDomain(ctx context.Context, m *NotificationEventModel) *domain.NotificationEvent {
	e := &domain.NotificationEvent{
		ID:             m.ID,
		UserID:         m.UserID,
		SubscriptionID: m.SubscriptionID,
		Kind:           domain.EventKind(m.Kind),
		ListingID:      m.ListingID,
		Title:          m.Title,
		Message:        m.Message,
		Day:            m.Day,
		PushStatus:     domain.DeliveryStatus(m.PushStatus),
		EmailStatus:    domain.DeliveryStatus(m.EmailStatus),
		CreatedAt:      m.CreatedAt,
	}
	if m.Metadata != "" {
		var md domain.PriceDropMetadata
		if err := json.Unmarshal([]byte(m.Metadata), &md); err != nil {
			logger.Warn(ctx, "ledger: malformed event metadata", "event_id", m.ID, "error", err)
		} else {
			e.Metadata = &md
		}
	}
	return e
}
