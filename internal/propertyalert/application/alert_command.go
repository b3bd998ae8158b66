package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/metrics"
)

// ErrValidation 请求参数不合法
var ErrValidation = errors.New("validation failed")

// AlertCommand 处理订阅与埋点的写操作
type AlertCommand struct {
	subs         domain.SubscriptionRepository
	interactions domain.InteractionRepository
	publisher    domain.EventPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	clock        func() time.Time
}

func NewAlertCommand(
	subs domain.SubscriptionRepository,
	interactions domain.InteractionRepository,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AlertCommand {
	return &AlertCommand{
		subs:         subs,
		interactions: interactions,
		publisher:    publisher,
		metrics:      m,
		logger:       logger,
		clock:        time.Now,
	}
}

// CreateSubscription 保存搜索；水位从保存时刻开始
func (c *AlertCommand) CreateSubscription(ctx context.Context, cmd CreateSubscriptionCommand) (*SubscriptionDTO, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	filter := cmd.Filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if cmd.EmailEnabled && strings.TrimSpace(cmd.Email) == "" {
		return nil, fmt.Errorf("%w: email is required when email alerts are enabled", ErrValidation)
	}
	if cmd.PushCredential != nil {
		if err := cmd.PushCredential.Validate(); err != nil {
			return nil, err
		}
	}

	now := c.clock()
	sub := &domain.Subscription{
		UserID:         cmd.UserID,
		Email:          strings.TrimSpace(cmd.Email),
		Filter:         filter,
		PushCredential: cmd.PushCredential,
		EmailEnabled:   cmd.EmailEnabled,
		LastCheckedAt:  now,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.subs.Save(ctx, sub); err != nil {
		return nil, err
	}

	c.logger.Info("subscription created", "subscription_id", sub.ID, "user_id", sub.UserID, "push", sub.PushEnabled(), "email", sub.EmailEnabled)
	return toSubscriptionDTO(sub), nil
}

// RegisterPush 注册或替换推送凭证
func (c *AlertCommand) RegisterPush(ctx context.Context, id uint64, cred domain.PushCredential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	if _, err := c.activeSubscription(ctx, id); err != nil {
		return err
	}
	return c.subs.SetPushCredential(ctx, id, &cred)
}

// RemovePush 关闭推送通道
func (c *AlertCommand) RemovePush(ctx context.Context, id uint64) error {
	if _, err := c.subs.Get(ctx, id); err != nil {
		return err
	}
	return c.subs.SetPushCredential(ctx, id, nil)
}

// SetEmailEnabled 开关邮件通道
func (c *AlertCommand) SetEmailEnabled(ctx context.Context, id uint64, enabled bool) error {
	sub, err := c.activeSubscription(ctx, id)
	if err != nil {
		return err
	}
	if enabled && sub.Email == "" {
		return fmt.Errorf("%w: subscription %d has no email address", ErrValidation, id)
	}
	return c.subs.SetEmailEnabled(ctx, id, enabled)
}

// Unsubscribe 软删除订阅
func (c *AlertCommand) Unsubscribe(ctx context.Context, id uint64) error {
	if _, err := c.subs.Get(ctx, id); err != nil {
		return err
	}
	if err := c.subs.Deactivate(ctx, id); err != nil {
		return err
	}
	c.logger.Info("subscription deactivated", "subscription_id", id)
	return nil
}

// RecordInteraction 记录客户端点击或关闭通知
func (c *AlertCommand) RecordInteraction(ctx context.Context, cmd RecordInteractionCommand) error {
	if cmd.NotificationID == "" || cmd.Type == "" {
		return fmt.Errorf("%w: notification id and type are required", ErrValidation)
	}
	action := cmd.Action
	if action == "" {
		action = "dismiss"
	}

	now := c.clock()
	ts := now
	if cmd.Timestamp > 0 {
		ts = time.UnixMilli(cmd.Timestamp)
	}
	rec := &domain.InteractionRecord{
		NotificationID: cmd.NotificationID,
		Type:           cmd.Type,
		Action:         action,
		Timestamp:      ts,
		ReceivedAt:     now,
		UserAgent:      cmd.UserAgent,
	}
	if err := c.interactions.Save(ctx, rec); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.InteractionsTotal.WithLabelValues(rec.Type, rec.Action).Inc()
	}

	if c.publisher != nil {
		evt := domain.InteractionRecordedEvent{
			NotificationID: rec.NotificationID,
			Type:           rec.Type,
			Action:         rec.Action,
			Timestamp:      rec.Timestamp.UnixMilli(),
			OccurredOn:     now,
		}
		if err := c.publisher.Publish(ctx, domain.InteractionRecordedEventType, rec.NotificationID, evt); err != nil {
			c.logger.Warn("failed to publish interaction event", "notification_id", rec.NotificationID, "error", err)
		}
	}
	return nil
}

func (c *AlertCommand) activeSubscription(ctx context.Context, id uint64) (*domain.Subscription, error) {
	sub, err := c.subs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.Active {
		return nil, domain.ErrSubscriptionInactive
	}
	return sub, nil
}

func formatEventID(id int64) string {
	return strconv.FormatInt(id, 10)
}
