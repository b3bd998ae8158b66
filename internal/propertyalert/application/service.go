package application

import (
	"context"
	"time"
)

// AlertService 房源提醒服务门面，整合命令、查询与调度
type AlertService struct {
	command   *AlertCommand
	query     *AlertQuery
	scheduler *DispatchScheduler
	clock     func() time.Time
}

func NewAlertService(command *AlertCommand, query *AlertQuery, scheduler *DispatchScheduler) *AlertService {
	return &AlertService{
		command:   command,
		query:     query,
		scheduler: scheduler,
		clock:     time.Now,
	}
}

// --- Command (Writes) ---

func (s *AlertService) CreateSubscription(ctx context.Context, cmd CreateSubscriptionCommand) (*SubscriptionDTO, error) {
	return s.command.CreateSubscription(ctx, cmd)
}

func (s *AlertService) RegisterPush(ctx context.Context, id uint64, cmd RegisterPushCommand) error {
	return s.command.RegisterPush(ctx, id, cmd.Credential())
}

func (s *AlertService) RemovePush(ctx context.Context, id uint64) error {
	return s.command.RemovePush(ctx, id)
}

func (s *AlertService) SetEmailEnabled(ctx context.Context, id uint64, enabled bool) error {
	return s.command.SetEmailEnabled(ctx, id, enabled)
}

func (s *AlertService) Unsubscribe(ctx context.Context, id uint64) error {
	return s.command.Unsubscribe(ctx, id)
}

func (s *AlertService) RecordInteraction(ctx context.Context, cmd RecordInteractionCommand) error {
	return s.command.RecordInteraction(ctx, cmd)
}

// --- Scheduler ---

// RunNow 手动触发单个订阅
func (s *AlertService) RunNow(ctx context.Context, id uint64) (*SubscriptionReport, error) {
	return s.scheduler.RunSubscription(ctx, id, s.clock())
}

// RunAll 手动触发一轮完整扫描
func (s *AlertService) RunAll(ctx context.Context) (*RunReport, error) {
	return s.scheduler.RunOnce(ctx, s.clock())
}

// --- Query (Reads) ---

func (s *AlertService) GetSubscription(ctx context.Context, id uint64) (*SubscriptionDTO, error) {
	return s.query.GetSubscription(ctx, id)
}

func (s *AlertService) ListSubscriptions(ctx context.Context, userID string) ([]*SubscriptionDTO, error) {
	return s.query.ListSubscriptions(ctx, userID)
}

func (s *AlertService) GetNotificationHistory(ctx context.Context, userID string, limit, offset int) ([]*NotificationEventDTO, int64, error) {
	return s.query.GetNotificationHistory(ctx, userID, limit, offset)
}

func (s *AlertService) Preview(ctx context.Context, id uint64) ([]*ListingDTO, error) {
	return s.query.Preview(ctx, id)
}
