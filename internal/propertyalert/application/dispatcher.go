package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/metrics"
)

// DispatchOutcome 一次投递在两个渠道上的结果
type DispatchOutcome struct {
	Push  domain.DeliveryStatus
	Email domain.DeliveryStatus
}

// PushExpired 推送凭证已失效
func (o DispatchOutcome) PushExpired() bool {
	return o.Push == domain.DeliveryExpired
}

// ChannelDispatcher 将去重后的事件分发到推送与邮件渠道，两个渠道独立判断
type ChannelDispatcher struct {
	push     domain.PushSender
	email    domain.EmailSender
	renderer *EmailRenderer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    func() time.Time
}

func NewChannelDispatcher(
	push domain.PushSender,
	email domain.EmailSender,
	renderer *EmailRenderer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ChannelDispatcher {
	return &ChannelDispatcher{
		push:     push,
		email:    email,
		renderer: renderer,
		metrics:  m,
		logger:   logger,
		clock:    time.Now,
	}
}

// DispatchNewMatches 本轮所有新房源合并为一条推送和一封邮件
func (d *ChannelDispatcher) DispatchNewMatches(ctx context.Context, sub *domain.Subscription, events []*domain.NotificationEvent, listings []*domain.Listing) DispatchOutcome {
	outcome := DispatchOutcome{Push: domain.DeliverySkipped, Email: domain.DeliverySkipped}
	if len(events) == 0 || len(listings) == 0 {
		return outcome
	}

	if sub.PushEnabled() {
		outcome.Push = d.sendPush(ctx, sub, d.newMatchPayload(sub, events[0], listings))
	}
	if sub.EmailChannelEnabled() {
		outcome.Email = d.sendEmail(ctx, sub, func() (*RenderedEmail, error) {
			return d.renderer.NewMatches(sub, listings)
		})
	}
	return outcome
}

// DispatchPriceDrop 每条降价单独投递
func (d *ChannelDispatcher) DispatchPriceDrop(ctx context.Context, sub *domain.Subscription, event *domain.NotificationEvent, drop PriceDrop) DispatchOutcome {
	outcome := DispatchOutcome{Push: domain.DeliverySkipped, Email: domain.DeliverySkipped}

	if sub.PushEnabled() {
		outcome.Push = d.sendPush(ctx, sub, d.priceDropPayload(event, drop))
	}
	if sub.EmailChannelEnabled() {
		outcome.Email = d.sendEmail(ctx, sub, func() (*RenderedEmail, error) {
			return d.renderer.PriceDrop(sub, drop)
		})
	}
	return outcome
}

func (d *ChannelDispatcher) sendPush(ctx context.Context, sub *domain.Subscription, payload domain.PushPayload) domain.DeliveryStatus {
	if d.push == nil {
		return domain.DeliverySkipped
	}

	result, err := d.push.Send(ctx, *sub.PushCredential, payload)
	status := result.Status()
	if err != nil {
		d.logger.Warn("push send failed", "subscription_id", sub.ID, "user_id", sub.UserID, "result", result, "error", err)
	}
	if status == domain.DeliveryExpired {
		d.logger.Info("push endpoint expired", "subscription_id", sub.ID, "user_id", sub.UserID)
	}
	d.observe("push", status)
	return status
}

func (d *ChannelDispatcher) sendEmail(ctx context.Context, sub *domain.Subscription, render func() (*RenderedEmail, error)) domain.DeliveryStatus {
	if d.email == nil {
		return domain.DeliverySkipped
	}

	mail, err := render()
	if err != nil {
		d.logger.Error("failed to render alert email", "subscription_id", sub.ID, "error", err)
		d.observe("email", domain.DeliveryFailed)
		return domain.DeliveryFailed
	}

	if err := d.email.Send(ctx, sub.Email, mail.Subject, mail.HTML); err != nil {
		d.logger.Warn("email send failed", "subscription_id", sub.ID, "user_id", sub.UserID, "error", err)
		d.observe("email", domain.DeliveryFailed)
		return domain.DeliveryFailed
	}
	d.observe("email", domain.DeliveryDelivered)
	return domain.DeliveryDelivered
}

func (d *ChannelDispatcher) observe(channel string, status domain.DeliveryStatus) {
	if d.metrics != nil {
		d.metrics.DispatchTotal.WithLabelValues(channel, string(status)).Inc()
	}
}

func (d *ChannelDispatcher) newMatchPayload(sub *domain.Subscription, first *domain.NotificationEvent, listings []*domain.Listing) domain.PushPayload {
	texts := d.renderer.texts
	data := domain.PushData{
		Type:      string(domain.EventKindNewMatch),
		ID:        strconv.FormatInt(first.ID, 10),
		Timestamp: d.clock().UnixMilli(),
	}

	var title, body string
	if len(listings) == 1 {
		l := listings[0]
		title = fmt.Sprintf(texts.PushNewMatchOne, l.Title)
		body = fmt.Sprintf("%s · %s", l.City, FormatPriceShort(l.Price, d.renderer.locale))
		data.URL = d.renderer.PropertyURL(l.ID)
		data.PropertyID = l.ID
	} else {
		title = fmt.Sprintf(texts.PushNewMatchMany, len(listings))
		names := make([]string, 0, emailTopListings)
		for i, l := range listings {
			if i >= emailTopListings {
				break
			}
			names = append(names, l.Title)
		}
		body = strings.Join(names, ", ")
		data.URL = d.renderer.ResultsURL(sub.ID)
	}

	return domain.PushPayload{Title: title, Body: body, Data: data}
}

func (d *ChannelDispatcher) priceDropPayload(event *domain.NotificationEvent, drop PriceDrop) domain.PushPayload {
	locale := d.renderer.locale
	return domain.PushPayload{
		Title: fmt.Sprintf(d.renderer.texts.PushPriceDrop, FormatPercent(drop.DropPercent, locale)),
		Body: fmt.Sprintf("%s: %s → %s", drop.Listing.Title,
			FormatPriceShort(drop.OldPrice, locale), FormatPriceShort(drop.NewPrice, locale)),
		Data: domain.PushData{
			Type:       string(domain.EventKindPriceDrop),
			URL:        d.renderer.PropertyURL(drop.Listing.ID),
			ID:         strconv.FormatInt(event.ID, 10),
			Timestamp:  d.clock().UnixMilli(),
			PropertyID: drop.Listing.ID,
		},
	}
}
