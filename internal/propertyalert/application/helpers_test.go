package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/infrastructure/persistence/mysql"
	"github.com/wyfcoding/propertyalert/pkg/metrics"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	db, err := gorm.Open(dsn, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := mysql.AutoMigrate(db, true); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func strPtr(s string) *string { return &s }

type fakePush struct {
	mu        sync.Mutex
	result    domain.DeliveryResult
	err       error
	payloads  []domain.PushPayload
	endpoints []string
	// onSend 在返回结果前执行，模拟投递期间的并发修改
	onSend func()
}

func (f *fakePush) Send(_ context.Context, cred domain.PushCredential, p domain.PushPayload) (domain.DeliveryResult, error) {
	if f.onSend != nil {
		f.onSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	f.endpoints = append(f.endpoints, cred.Endpoint)
	if f.result == "" {
		return domain.ResultDelivered, f.err
	}
	return f.result, f.err
}

func (f *fakePush) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type sentMail struct {
	To, Subject, HTML string
}

type fakeEmail struct {
	mu       sync.Mutex
	sent     []sentMail
	err      error
	panicFor string
}

func (f *fakeEmail) Send(_ context.Context, to, subject, html string) error {
	if f.panicFor != "" && to == f.panicFor {
		panic("smtp client exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, HTML: html})
	return f.err
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) Publish(_ context.Context, eventType, _ string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

// fixture 基于 sqlite 的完整调度链路
type fixture struct {
	db        *gorm.DB
	subs      domain.SubscriptionRepository
	ledger    domain.NotificationLedger
	baselines domain.PriceBaselineRepository
	push      *fakePush
	email     *fakeEmail
	publisher *fakePublisher
	metrics   *metrics.Metrics
	scheduler *DispatchScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:        db,
		subs:      mysql.NewSubscriptionRepository(db),
		ledger:    mysql.NewNotificationLedger(db),
		baselines: mysql.NewPriceBaselineRepository(db),
		push:      &fakePush{},
		email:     &fakeEmail{},
		publisher: &fakePublisher{},
		metrics:   metrics.New(),
	}
	matcher := NewMatchingEngine(mysql.NewListingReader(db), DefaultMatchingConfig())
	dispatcher := NewChannelDispatcher(f.push, f.email, NewEmailRenderer("https://rumah.example.id", "en"), f.metrics, discardLogger())
	f.scheduler = NewDispatchScheduler(f.subs, f.ledger, f.baselines, matcher, dispatcher, f.publisher, f.metrics, discardLogger(), SchedulerConfig{
		Workers:  2,
		Location: time.UTC,
	})
	return f
}

func (f *fixture) addListing(t *testing.T, id, title, city, propertyType string, price int64, created time.Time) {
	t.Helper()
	m := mysql.ListingModel{
		ID:           id,
		Title:        title,
		City:         city,
		PropertyType: propertyType,
		ListingType:  "sale",
		Price:        decimal.NewFromInt(price),
		Bedrooms:     3,
		Status:       "active",
		CreatedAt:    created,
	}
	if err := f.db.Create(&m).Error; err != nil {
		t.Fatalf("seed listing %s: %v", id, err)
	}
}

func (f *fixture) setPrice(t *testing.T, id string, price int64) {
	t.Helper()
	if err := f.db.Model(&mysql.ListingModel{}).Where("id = ?", id).Update("price", decimal.NewFromInt(price)).Error; err != nil {
		t.Fatalf("update price %s: %v", id, err)
	}
}

func (f *fixture) addSubscription(t *testing.T, sub *domain.Subscription) *domain.Subscription {
	t.Helper()
	if sub.LastCheckedAt.IsZero() {
		sub.LastCheckedAt = t0
	}
	sub.Active = true
	sub.CreatedAt = t0
	sub.UpdatedAt = t0
	if err := f.subs.Save(context.Background(), sub); err != nil {
		t.Fatalf("save subscription: %v", err)
	}
	return sub
}

func (f *fixture) reload(t *testing.T, id uint64) *domain.Subscription {
	t.Helper()
	sub, err := f.subs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get subscription %d: %v", id, err)
	}
	return sub
}

func (f *fixture) ledgerCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&mysql.NotificationEventModel{}).Count(&n).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	return n
}

func pushCred(endpoint string) *domain.PushCredential {
	return &domain.PushCredential{Endpoint: endpoint, P256dh: "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM", Auth: "tBHItJI5svbpez7KI4CCXg"}
}
