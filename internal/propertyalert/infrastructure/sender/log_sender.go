package sender

import (
	"context"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/logger"
)

// LogEmailSender 只打印日志，用于本地环境
type LogEmailSender struct{}

func NewLogEmailSender() *LogEmailSender { return &LogEmailSender{} }

func (s *LogEmailSender) Send(ctx context.Context, to, subject, html string) error {
	logger.Info(ctx, "Mock email sent", "to", to, "subject", subject, "size", len(html))
	return nil
}

// LogPushSender 只打印日志，用于未配置 VAPID 的环境
type LogPushSender struct{}

func NewLogPushSender() *LogPushSender { return &LogPushSender{} }

func (s *LogPushSender) Send(ctx context.Context, cred domain.PushCredential, payload domain.PushPayload) (domain.DeliveryResult, error) {
	logger.Info(ctx, "Mock push sent", "endpoint", cred.Endpoint, "title", payload.Title, "type", payload.Data.Type)
	return domain.ResultDelivered, nil
}
