package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepositoryImpl 是 domain.SubscriptionRepository 的 GORM 实现
type subscriptionRepositoryImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) domain.SubscriptionRepository {
	return &subscriptionRepositoryImpl{db: db}
}

// Save 新建或整体覆盖订阅
func (r *subscriptionRepositoryImpl) Save(ctx context.Context, s *domain.Subscription) error {
	m, err := r.toModel(s)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(m).Error
	if err != nil {
		logger.Error(ctx, "subscription_repository.Save failed", "user_id", s.UserID, "error", err)
		return fmt.Errorf("failed to save subscription: %w", err)
	}

	s.ID = m.ID
	return nil
}

func (r *subscriptionRepositoryImpl) Get(ctx context.Context, id uint64) (*domain.Subscription, error) {
	var m SubscriptionModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription %d: %w", id, err)
	}
	return r.toDomain(&m), nil
}

func (r *subscriptionRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]*domain.Subscription, error) {
	var ms []SubscriptionModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions by user: %w", err)
	}
	return r.toDomainList(ms), nil
}

func (r *subscriptionRepositoryImpl) ListActive(ctx context.Context) ([]*domain.Subscription, error) {
	var ms []SubscriptionModel
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id asc").Find(&ms).Error; err != nil {
		logger.Error(ctx, "subscription_repository.ListActive failed", "error", err)
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return r.toDomainList(ms), nil
}

// UpdateLastChecked 条件更新保证水位单调
func (r *subscriptionRepositoryImpl) UpdateLastChecked(ctx context.Context, id uint64, at time.Time) error {
	at = at.UTC()
	err := r.db.WithContext(ctx).Model(&SubscriptionModel{}).
		Where("id = ? AND last_checked_at < ?", id, at).
		Updates(map[string]any{"last_checked_at": at, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("failed to update last_checked_at: %w", err)
	}
	return nil
}

func (r *subscriptionRepositoryImpl) SetPushCredential(ctx context.Context, id uint64, cred *domain.PushCredential) error {
	updates := map[string]any{
		"push_endpoint": nil,
		"push_p256dh":   nil,
		"push_auth":     nil,
		"updated_at":    time.Now().UTC(),
	}
	if cred != nil {
		updates["push_endpoint"] = cred.Endpoint
		updates["push_p256dh"] = cred.P256dh
		updates["push_auth"] = cred.Auth
	}
	if err := r.db.WithContext(ctx).Model(&SubscriptionModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		logger.Error(ctx, "subscription_repository.SetPushCredential failed", "subscription_id", id, "error", err)
		return fmt.Errorf("failed to update push credential: %w", err)
	}
	return nil
}

// ClearPushEndpoint 条件更新，避免覆盖期间重新注册的凭证
func (r *subscriptionRepositoryImpl) ClearPushEndpoint(ctx context.Context, id uint64, endpoint string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&SubscriptionModel{}).
		Where("id = ? AND push_endpoint = ?", id, endpoint).
		Updates(map[string]any{
			"push_endpoint": nil,
			"push_p256dh":   nil,
			"push_auth":     nil,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		logger.Error(ctx, "subscription_repository.ClearPushEndpoint failed", "subscription_id", id, "error", res.Error)
		return false, fmt.Errorf("failed to clear push credential: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *subscriptionRepositoryImpl) SetEmailEnabled(ctx context.Context, id uint64, enabled bool) error {
	err := r.db.WithContext(ctx).Model(&SubscriptionModel{}).Where("id = ?", id).
		Updates(map[string]any{"email_enabled": enabled, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("failed to update email_enabled: %w", err)
	}
	return nil
}

func (r *subscriptionRepositoryImpl) Deactivate(ctx context.Context, id uint64) error {
	err := r.db.WithContext(ctx).Model(&SubscriptionModel{}).Where("id = ?", id).
		Updates(map[string]any{"active": false, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepositoryImpl) toModel(s *domain.Subscription) (*SubscriptionModel, error) {
	filter, err := s.Filter.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}
	m := &SubscriptionModel{
		ID:            s.ID,
		UserID:        s.UserID,
		Email:         s.Email,
		Filter:        filter,
		EmailEnabled:  s.EmailEnabled,
		LastCheckedAt: s.LastCheckedAt.UTC(),
		Active:        s.Active,
		CreatedAt:     s.CreatedAt.UTC(),
		UpdatedAt:     s.UpdatedAt.UTC(),
	}
	if c := s.PushCredential; c != nil {
		m.PushEndpoint = &c.Endpoint
		m.PushP256dh = &c.P256dh
		m.PushAuth = &c.Auth
	}
	return m, nil
}

func (r *subscriptionRepositoryImpl) toDomain(m *SubscriptionModel) *domain.Subscription {
	s := &domain.Subscription{
		ID:            m.ID,
		UserID:        m.UserID,
		Email:         m.Email,
		EmailEnabled:  m.EmailEnabled,
		LastCheckedAt: m.LastCheckedAt,
		Active:        m.Active,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	// 单条记录的筛选条件损坏不影响其它订阅
	s.Filter, s.FilterErr = domain.ParseFilter(m.Filter)
	if m.PushEndpoint != nil && *m.PushEndpoint != "" {
		s.PushCredential = &domain.PushCredential{Endpoint: *m.PushEndpoint}
		if m.PushP256dh != nil {
			s.PushCredential.P256dh = *m.PushP256dh
		}
		if m.PushAuth != nil {
			s.PushCredential.Auth = *m.PushAuth
		}
	}
	return s
}

func (r *subscriptionRepositoryImpl) toDomainList(ms []SubscriptionModel) []*domain.Subscription {
	res := make([]*domain.Subscription, len(ms))
	for i := range ms {
		res[i] = r.toDomain(&ms[i])
	}
	return res
}
