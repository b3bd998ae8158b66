package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/idgen"
	"github.com/wyfcoding/propertyalert/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// SchedulerConfig 调度参数
type SchedulerConfig struct {
	Interval   time.Duration
	Workers    int
	MaxMatches int
	// PriceScanBatch 降价候选分页大小
	PriceScanBatch int
	// MaxPriceDrops 每个订阅每轮最多发出的降价提醒数
	MaxPriceDrops int
	// Location 幂等键自然日的时区
	Location *time.Location
}

// SubscriptionReport 单个订阅一轮的处理结果
type SubscriptionReport struct {
	SubscriptionID uint64
	Skipped        bool
	Matches        int
	PriceDrops     int
	Inserted       int
	Duplicates     int
	Errors         int
	PushExpired    bool
	Watermark      time.Time
}

// RunReport 一轮调度的汇总
type RunReport struct {
	StartedAt     time.Time
	Duration      time.Duration
	Subscriptions int
	Processed     int
	Skipped       int
	Failed        int
	Inserted      int
	Duplicates    int
}

func (r *RunReport) add(rep *SubscriptionReport, err error) {
	switch {
	case err != nil:
		r.Failed++
	case rep.Skipped:
		r.Skipped++
	default:
		r.Processed++
	}
	if rep != nil {
		r.Inserted += rep.Inserted
		r.Duplicates += rep.Duplicates
	}
}

// DispatchScheduler 周期性扫描订阅：检测 -> 台账去重 -> 分发 -> 推进水位
type DispatchScheduler struct {
	subs       domain.SubscriptionRepository
	ledger     domain.NotificationLedger
	baselines  domain.PriceBaselineRepository
	matcher    *MatchingEngine
	dispatcher *ChannelDispatcher
	publisher  domain.EventPublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        SchedulerConfig
	clock      func() time.Time
	// 同一进程内不重叠执行
	runMu sync.Mutex
}

func NewDispatchScheduler(
	subs domain.SubscriptionRepository,
	ledger domain.NotificationLedger,
	baselines domain.PriceBaselineRepository,
	matcher *MatchingEngine,
	dispatcher *ChannelDispatcher,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg SchedulerConfig,
) *DispatchScheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = 10
	}
	if cfg.PriceScanBatch <= 0 {
		cfg.PriceScanBatch = 200
	}
	if cfg.MaxPriceDrops <= 0 {
		cfg.MaxPriceDrops = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &DispatchScheduler{
		subs:       subs,
		ledger:     ledger,
		baselines:  baselines,
		matcher:    matcher,
		dispatcher: dispatcher,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
		cfg:        cfg,
		clock:      time.Now,
	}
}

// Start 按间隔循环执行，ctx 取消后退出
func (s *DispatchScheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Dispatch scheduler started", "interval", s.cfg.Interval, "workers", s.cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Dispatch scheduler stopping...")
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, s.clock()); err != nil {
				s.logger.Error("dispatch run failed", "error", err)
			}
		}
	}
}

// RunOnce 执行一轮扫描；只有拉取订阅失败才返回错误，单个订阅的错误只计数
func (s *DispatchScheduler) RunOnce(ctx context.Context, now time.Time) (*RunReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := &RunReport{StartedAt: now}
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		if s.metrics != nil {
			s.metrics.RunsTotal.Inc()
			s.metrics.RunDuration.Observe(report.Duration.Seconds())
		}
	}()

	subs, err := s.subs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	report.Subscriptions = len(subs)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			rep, err := s.processSubscription(gctx, sub, now)
			mu.Lock()
			report.add(rep, err)
			mu.Unlock()
			// 单个订阅失败不影响其余订阅
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("dispatch run finished",
		"subscriptions", report.Subscriptions,
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"inserted", report.Inserted,
		"duplicates", report.Duplicates,
		"duration", time.Since(start))
	return report, nil
}

// RunSubscription 手动立即处理单个订阅
func (s *DispatchScheduler) RunSubscription(ctx context.Context, id uint64, now time.Time) (*SubscriptionReport, error) {
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.Active {
		return nil, domain.ErrSubscriptionInactive
	}
	if sub.FilterErr != nil {
		return nil, sub.FilterErr
	}
	return s.processSubscription(ctx, sub, now)
}

// processSubscription 独立处理一个订阅，panic 被转换为错误
func (s *DispatchScheduler) processSubscription(ctx context.Context, sub *domain.Subscription, now time.Time) (rep *SubscriptionReport, err error) {
	rep = &SubscriptionReport{SubscriptionID: sub.ID, Watermark: sub.LastCheckedAt}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing subscription %d: %v", sub.ID, r)
			s.logger.Error("subscription processing panicked", "subscription_id", sub.ID, "panic", r)
			if !rep.Skipped {
				s.advanceAfterPanic(ctx, sub, now, rep)
			}
		}
		s.observeSubscription(rep, err)
	}()

	if reason := sub.Evaluable(); reason != nil {
		rep.Skipped = true
		if errors.Is(reason, domain.ErrInvalidFilter) {
			s.logger.Error("skipping subscription with invalid filter", "subscription_id", sub.ID, "user_id", sub.UserID, "error", reason)
		}
		return rep, nil
	}

	since := sub.LastCheckedAt
	s.detectNewMatches(ctx, sub, since, now, rep)
	s.detectPriceDrops(ctx, sub, since, now, rep)

	// 无论成功或部分失败，水位都推进，避免单条坏数据卡住订阅
	mark := sub.AdvanceWatermark(now)
	if uerr := s.subs.UpdateLastChecked(ctx, sub.ID, mark); uerr != nil {
		rep.Errors++
		s.logger.Error("failed to advance watermark", "subscription_id", sub.ID, "error", uerr)
	}
	rep.Watermark = mark

	if rep.Errors > 0 {
		s.logger.Warn("subscription processed with errors", "subscription_id", sub.ID, "errors", rep.Errors)
	}
	return rep, nil
}

// advanceAfterPanic panic 后仍推进水位
func (s *DispatchScheduler) advanceAfterPanic(ctx context.Context, sub *domain.Subscription, now time.Time, rep *SubscriptionReport) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("failed to advance watermark after panic", "subscription_id", sub.ID, "panic", r)
		}
	}()
	mark := sub.AdvanceWatermark(now)
	if err := s.subs.UpdateLastChecked(ctx, sub.ID, mark); err != nil {
		s.logger.Error("failed to advance watermark", "subscription_id", sub.ID, "error", err)
		return
	}
	rep.Watermark = mark
}

func (s *DispatchScheduler) detectNewMatches(ctx context.Context, sub *domain.Subscription, since, now time.Time, rep *SubscriptionReport) {
	listings, err := s.matcher.FindNewMatches(ctx, sub.Filter, since, now, s.cfg.MaxMatches)
	if err != nil {
		rep.Errors++
		s.logger.Error("new match detection failed", "subscription_id", sub.ID, "error", err)
		return
	}
	rep.Matches = len(listings)
	if len(listings) == 0 {
		return
	}

	s.recordBaselines(ctx, sub, listings, now)

	events := make([]*domain.NotificationEvent, 0, len(listings))
	fresh := make([]*domain.Listing, 0, len(listings))
	for _, l := range listings {
		event := s.newEvent(sub, domain.EventKindNewMatch, l, now)
		event.Message = fmt.Sprintf("%s in %s", l.Title, l.City)
		if s.insert(ctx, event, rep) {
			events = append(events, event)
			fresh = append(fresh, l)
		}
	}
	if len(events) == 0 {
		return
	}

	outcome := s.dispatcher.DispatchNewMatches(ctx, sub, events, fresh)
	s.afterDispatch(ctx, sub, events, outcome, rep)
}

func (s *DispatchScheduler) detectPriceDrops(ctx context.Context, sub *domain.Subscription, since, now time.Time, rep *SubscriptionReport) {
	var (
		drops []PriceDrop
		after *domain.ListingCursor
	)
	for {
		page, err := s.matcher.PriceDropCandidates(ctx, sub.Filter, since, after, s.cfg.PriceScanBatch)
		if err != nil {
			rep.Errors++
			s.logger.Error("price drop candidate lookup failed", "subscription_id", sub.ID, "error", err)
			return
		}
		if len(page) == 0 {
			break
		}
		found, ok := s.scanPriceDrops(ctx, sub, page, now, rep)
		if !ok {
			return
		}
		drops = append(drops, found...)
		if len(page) < s.cfg.PriceScanBatch {
			break
		}
		after = domain.CursorOf(page[len(page)-1])
	}

	SortDrops(drops)
	rep.PriceDrops = len(drops)
	if len(drops) > s.cfg.MaxPriceDrops {
		// 未发出的降价保留基线，下一轮仍会命中
		drops = drops[:s.cfg.MaxPriceDrops]
	}
	for _, drop := range drops {
		event := s.newEvent(sub, domain.EventKindPriceDrop, drop.Listing, now)
		event.Message = fmt.Sprintf("%s dropped %s%%", drop.Listing.Title, drop.DropPercent.StringFixed(1))
		event.Metadata = &domain.PriceDropMetadata{
			OldPrice:    drop.OldPrice,
			NewPrice:    drop.NewPrice,
			DropPercent: drop.DropPercent,
		}
		if !s.insert(ctx, event, rep) {
			continue
		}

		outcome := s.dispatcher.DispatchPriceDrop(ctx, sub, event, drop)
		s.afterDispatch(ctx, sub, []*domain.NotificationEvent{event}, outcome, rep)

		if s.baselines != nil {
			if err := s.baselines.MarkNotified(ctx, sub.ID, drop.Listing.ID, drop.NewPrice); err != nil {
				rep.Errors++
				s.logger.Error("failed to update price baseline", "subscription_id", sub.ID, "listing_id", drop.Listing.ID, "error", err)
			}
		}
	}
}

// scanPriceDrops 为一页候选补齐基线并计算降幅；基线读取失败时返回 false
func (s *DispatchScheduler) scanPriceDrops(ctx context.Context, sub *domain.Subscription, candidates []*domain.Listing, now time.Time, rep *SubscriptionReport) ([]PriceDrop, bool) {
	priced := make([]PriceCandidate, 0, len(candidates))
	if s.baselines == nil {
		for _, l := range candidates {
			priced = append(priced, PriceCandidate{Listing: l})
		}
		return s.matcher.FindPriceDrops(sub.Filter, priced), true
	}

	ids := make([]string, len(candidates))
	for i, l := range candidates {
		ids[i] = l.ID
	}
	known, err := s.baselines.ListBySubscription(ctx, sub.ID, ids)
	if err != nil {
		// 没有基线时估算价会对所有房源误报，本轮跳过降价检测
		rep.Errors++
		s.logger.Error("price baseline lookup failed", "subscription_id", sub.ID, "error", err)
		return nil, false
	}
	var firstSeen []*domain.Listing
	for _, l := range candidates {
		b, ok := known[l.ID]
		if !ok {
			firstSeen = append(firstSeen, l)
			b = &domain.PriceBaseline{SubscriptionID: sub.ID, ListingID: l.ID, FirstSeenPrice: l.Price, FirstSeenAt: now}
		}
		priced = append(priced, PriceCandidate{Listing: l, Baseline: b})
	}
	s.recordBaselines(ctx, sub, firstSeen, now)
	return s.matcher.FindPriceDrops(sub.Filter, priced), true
}

func (s *DispatchScheduler) newEvent(sub *domain.Subscription, kind domain.EventKind, l *domain.Listing, now time.Time) *domain.NotificationEvent {
	return &domain.NotificationEvent{
		ID:             idgen.GenID(),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Kind:           kind,
		ListingID:      l.ID,
		Title:          l.Title,
		Day:            domain.DayKey(now, s.cfg.Location),
		PushStatus:     domain.DeliveryPending,
		EmailStatus:    domain.DeliveryPending,
		CreatedAt:      now,
	}
}

// insert 先写台账再投递；重复或写入失败都不投递
func (s *DispatchScheduler) insert(ctx context.Context, event *domain.NotificationEvent, rep *SubscriptionReport) bool {
	inserted, err := s.ledger.InsertIfAbsent(ctx, event)
	switch {
	case err != nil:
		rep.Errors++
		s.observeEvent(event.Kind, "error")
		s.logger.Error("ledger insert failed", "key", event.IdempotencyKey(), "error", err)
		return false
	case !inserted:
		rep.Duplicates++
		s.observeEvent(event.Kind, "duplicate")
		s.logger.Debug("alert already sent today", "key", event.IdempotencyKey())
		return false
	default:
		rep.Inserted++
		s.observeEvent(event.Kind, "inserted")
		return true
	}
}

func (s *DispatchScheduler) afterDispatch(ctx context.Context, sub *domain.Subscription, events []*domain.NotificationEvent, outcome DispatchOutcome, rep *SubscriptionReport) {
	if outcome.PushExpired() && sub.PushCredential != nil {
		// 失效的 endpoint 必须清除，邮件通道不受影响
		cleared, err := s.subs.ClearPushEndpoint(ctx, sub.ID, sub.PushCredential.Endpoint)
		switch {
		case err != nil:
			rep.Errors++
			s.logger.Error("failed to clear expired push credential", "subscription_id", sub.ID, "error", err)
		case !cleared:
			// 期间已重新注册，保留新凭证
			s.logger.Info("push credential replaced before expiry cleanup", "subscription_id", sub.ID)
			sub.PushCredential = nil
		default:
			sub.PushCredential = nil
			rep.PushExpired = true
		}
	}
	if outcome.Push == domain.DeliveryFailed || outcome.Email == domain.DeliveryFailed {
		rep.Errors++
	}

	for _, e := range events {
		e.PushStatus = outcome.Push
		e.EmailStatus = outcome.Email
		if err := s.ledger.UpdateDelivery(ctx, e.ID, outcome.Push, outcome.Email); err != nil {
			s.logger.Warn("failed to update delivery status", "event_id", e.ID, "error", err)
		}
		if s.publisher == nil {
			continue
		}
		evt := domain.AlertDispatchedEvent{
			EventID:        e.ID,
			UserID:         e.UserID,
			SubscriptionID: e.SubscriptionID,
			Kind:           e.Kind,
			ListingID:      e.ListingID,
			PushStatus:     e.PushStatus,
			EmailStatus:    e.EmailStatus,
			OccurredOn:     s.clock(),
		}
		if err := s.publisher.Publish(ctx, domain.AlertDispatchedEventType, e.UserID, evt); err != nil {
			s.logger.Warn("failed to publish alert dispatched event", "event_id", e.ID, "error", err)
		}
	}
}

// recordBaselines 首次看到的价格作为降价基线
func (s *DispatchScheduler) recordBaselines(ctx context.Context, sub *domain.Subscription, listings []*domain.Listing, now time.Time) {
	if s.baselines == nil || len(listings) == 0 {
		return
	}
	baselines := make([]*domain.PriceBaseline, len(listings))
	for i, l := range listings {
		baselines[i] = &domain.PriceBaseline{
			SubscriptionID: sub.ID,
			ListingID:      l.ID,
			FirstSeenPrice: l.Price,
			FirstSeenAt:    now,
			UpdatedAt:      now,
		}
	}
	if err := s.baselines.RecordFirstSeen(ctx, baselines); err != nil {
		s.logger.Warn("failed to record price baselines", "subscription_id", sub.ID, "error", err)
	}
}

func (s *DispatchScheduler) observeEvent(kind domain.EventKind, outcome string) {
	if s.metrics != nil {
		s.metrics.EventsTotal.WithLabelValues(string(kind), outcome).Inc()
	}
}

func (s *DispatchScheduler) observeSubscription(rep *SubscriptionReport, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "failed"
	case rep != nil && rep.Skipped:
		outcome = "skipped"
	case rep != nil && rep.Errors > 0:
		outcome = "partial"
	}
	s.metrics.SubscriptionsTotal.WithLabelValues(outcome).Inc()
}
