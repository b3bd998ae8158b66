// Package sender 提供推送与邮件渠道的实现及熔断包装
package sender

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/logger"
)

// BreakerSettings 熔断参数
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerSettings 连续 10 次以上请求失败率过半时熔断 30s
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  10,
	}
}

func newBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && ratio >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// errPushFailed 让失败结果计入熔断统计
var errPushFailed = errors.New("push delivery failed")

// BreakerPushSender 熔断包装的推送通道；endpoint 失效不计入失败
type BreakerPushSender struct {
	next domain.PushSender
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPushSender(next domain.PushSender, s BreakerSettings) *BreakerPushSender {
	return &BreakerPushSender{next: next, cb: newBreaker("push", s)}
}

func (b *BreakerPushSender) Send(ctx context.Context, cred domain.PushCredential, payload domain.PushPayload) (domain.DeliveryResult, error) {
	var cause error
	res, err := b.cb.Execute(func() (interface{}, error) {
		r, err := b.next.Send(ctx, cred, payload)
		if r == domain.ResultFailed || r == "" {
			cause = err
			if err == nil {
				err = errPushFailed
			}
			return domain.ResultFailed, err
		}
		return r, nil
	})
	if err != nil {
		if cause != nil {
			return domain.ResultFailed, cause
		}
		return domain.ResultFailed, err
	}
	return res.(domain.DeliveryResult), nil
}

// BreakerEmailSender 熔断包装的邮件通道
type BreakerEmailSender struct {
	next domain.EmailSender
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerEmailSender(next domain.EmailSender, s BreakerSettings) *BreakerEmailSender {
	return &BreakerEmailSender{next: next, cb: newBreaker("email", s)}
}

func (b *BreakerEmailSender) Send(ctx context.Context, to, subject, html string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, to, subject, html)
	})
	return err
}
