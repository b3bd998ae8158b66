package notificationagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// InteractionPath 服务端埋点接口
const InteractionPath = "/api/v1/alerts/interactions"

// Interaction 点击或关闭通知的埋点
type Interaction struct {
	NotificationID string `json:"notificationId"`
	Type           string `json:"type"`
	Action         string `json:"action"`
	Timestamp      int64  `json:"timestamp"`
}

// Reporter 上报失败不影响通知处理
type Reporter interface {
	Report(ctx context.Context, in Interaction)
	Close()
}

// HTTPReporter 异步 POST 到服务端
type HTTPReporter struct {
	client *resty.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewHTTPReporter(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPReporter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPReporter{client: client, logger: logger}
}

// NewHTTPReporterWithClient 测试注入
func NewHTTPReporterWithClient(client *resty.Client, logger *slog.Logger) *HTTPReporter {
	return &HTTPReporter{client: client, logger: logger}
}

// Report 不阻塞调用方
func (r *HTTPReporter) Report(ctx context.Context, in Interaction) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.send(context.WithoutCancel(ctx), in); err != nil {
			r.logger.Warn("failed to report notification interaction", "notification_id", in.NotificationID, "action", in.Action, "error", err)
		}
	}()
}

func (r *HTTPReporter) send(ctx context.Context, in Interaction) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(in).
		Post(InteractionPath)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("interaction endpoint returned %d", resp.StatusCode())
	}
	return nil
}

// Close 等待在途上报完成
func (r *HTTPReporter) Close() {
	r.wg.Wait()
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, Interaction) {}
func (nopReporter) Close()                              {}
