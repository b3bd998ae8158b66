package mysql

import (
	"context"
	"fmt"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"gorm.io/gorm"
)

type interactionRepositoryImpl struct {
	db *gorm.DB
}

func NewInteractionRepository(db *gorm.DB) domain.InteractionRepository {
	return &interactionRepositoryImpl{db: db}
}

func (r *interactionRepositoryImpl) Save(ctx context.Context, rec *domain.InteractionRecord) error {
	m := &InteractionModel{
		NotificationID: rec.NotificationID,
		Type:           rec.Type,
		Action:         rec.Action,
		Timestamp:      rec.Timestamp.UTC(),
		ReceivedAt:     rec.ReceivedAt.UTC(),
		UserAgent:      truncate(rec.UserAgent, 255),
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to save interaction: %w", err)
	}
	rec.ID = m.ID
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
