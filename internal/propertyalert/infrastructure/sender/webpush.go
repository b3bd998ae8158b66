package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/config"
	"github.com/wyfcoding/propertyalert/pkg/logger"
)

// WebPushSender 通过 VAPID 签名的 Web Push 投递到浏览器
type WebPushSender struct {
	client     *http.Client
	publicKey  string
	privateKey string
	subscriber string
	ttl        int
}

func NewWebPushSender(cfg config.PushConfig) *WebPushSender {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewWebPushSenderWithClient(cfg, &http.Client{Timeout: timeout})
}

func NewWebPushSenderWithClient(cfg config.PushConfig, client *http.Client) *WebPushSender {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 86400
	}
	return &WebPushSender{
		client:     client,
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		subscriber: cfg.Subscriber,
		ttl:        ttl,
	}
}

// Send 2xx 为送达，404/410 为凭证失效，其余为失败
func (s *WebPushSender) Send(ctx context.Context, cred domain.PushCredential, payload domain.PushPayload) (domain.DeliveryResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ResultFailed, fmt.Errorf("failed to marshal push payload: %w", err)
	}

	urgency := webpush.UrgencyNormal
	if payload.Data.Type == string(domain.EventKindPriceDrop) {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: cred.Endpoint,
		Keys: webpush.Keys{
			Auth:   cred.Auth,
			P256dh: cred.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subscriber,
		TTL:             s.ttl,
		Urgency:         urgency,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
	})
	if err != nil {
		return domain.ResultFailed, fmt.Errorf("web push request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logger.Debug(ctx, "web push delivered", "status", resp.StatusCode)
		return domain.ResultDelivered, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return domain.ResultExpired, nil
	default:
		return domain.ResultFailed, fmt.Errorf("push service responded with status %d", resp.StatusCode)
	}
}
