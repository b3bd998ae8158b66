package mysql

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

	if err := AutoMigrate(db, true); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedListing(t *testing.T, db *gorm.DB, m ListingModel) {
	t.Helper()
	if m.Status == "" {
		m.Status = "active"
	}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("seed listing %s: %v", m.ID, err)
	}
}

func strPtr(s string) *string { return &s }

func TestLedgerInsertIfAbsent(t *testing.T) {
	db := newTestDB(t)
	ledger := NewNotificationLedger(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := &domain.NotificationEvent{
		ID: 1, UserID: "u1", SubscriptionID: 7, Kind: domain.EventKindNewMatch,
		ListingID: "L1", Day: "2026-03-01", PushStatus: domain.DeliveryPending,
		EmailStatus: domain.DeliveryPending, CreatedAt: now,
	}
	inserted, err := ledger.InsertIfAbsent(ctx, first)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}

	dup := *first
	dup.ID = 2
	inserted, err = ledger.InsertIfAbsent(ctx, &dup)
	if err != nil {
		t.Fatalf("duplicate insert returned error: %v", err)
	}
	if inserted {
		t.Fatalf("duplicate key must not be inserted")
	}

	// 不同类型、不同日期都不是重复
	other := *first
	other.ID = 3
	other.Kind = domain.EventKindPriceDrop
	other.Metadata = &domain.PriceDropMetadata{OldPrice: decimal.NewFromInt(100), NewPrice: decimal.NewFromInt(88), DropPercent: decimal.NewFromInt(12)}
	if ok, err := ledger.InsertIfAbsent(ctx, &other); err != nil || !ok {
		t.Fatalf("price_drop insert: %v %v", ok, err)
	}
	nextDay := *first
	nextDay.ID = 4
	nextDay.Day = "2026-03-02"
	if ok, err := ledger.InsertIfAbsent(ctx, &nextDay); err != nil || !ok {
		t.Fatalf("next day insert: %v %v", ok, err)
	}

	var count int64
	db.Model(&NotificationEventModel{}).Count(&count)
	if count != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", count)
	}

	if err := ledger.UpdateDelivery(ctx, 3, domain.DeliveryDelivered, domain.DeliverySkipped); err != nil {
		t.Fatalf("UpdateDelivery: %v", err)
	}
	events, total, err := ledger.ListByUser(ctx, "u1", 10, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if total != 3 || len(events) != 3 {
		t.Fatalf("history: total=%d len=%d", total, len(events))
	}
	var found bool
	for _, e := range events {
		if e.ID == 3 {
			found = true
			if e.PushStatus != domain.DeliveryDelivered || e.Metadata == nil || !e.Metadata.DropPercent.Equal(decimal.NewFromInt(12)) {
				t.Fatalf("unexpected price drop row: %+v", e)
			}
		}
	}
	if !found {
		t.Fatalf("price drop event missing from history")
	}
}

func TestSubscriptionRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	sub := &domain.Subscription{
		UserID:         "u1",
		Email:          "u1@example.com",
		Filter:         domain.Filter{City: strPtr("Bali")},
		PushCredential: &domain.PushCredential{Endpoint: "https://push.example.com/abc", P256dh: "k", Auth: "a"},
		EmailEnabled:   true,
		LastCheckedAt:  t0,
		Active:         true,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if sub.ID == 0 {
		t.Fatalf("Save did not assign id")
	}

	got, err := repo.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Filter.City == nil || *got.Filter.City != "Bali" || got.PushCredential == nil || !got.LastCheckedAt.Equal(t0) {
		t.Fatalf("unexpected subscription: %+v", got)
	}

	// 水位只前进
	if err := repo.UpdateLastChecked(ctx, sub.ID, t0.Add(-time.Hour)); err != nil {
		t.Fatalf("UpdateLastChecked: %v", err)
	}
	got, _ = repo.Get(ctx, sub.ID)
	if !got.LastCheckedAt.Equal(t0) {
		t.Fatalf("watermark moved backwards to %v", got.LastCheckedAt)
	}
	if err := repo.UpdateLastChecked(ctx, sub.ID, t0.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateLastChecked: %v", err)
	}
	got, _ = repo.Get(ctx, sub.ID)
	if !got.LastCheckedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("watermark not advanced: %v", got.LastCheckedAt)
	}

	cleared, err := repo.ClearPushEndpoint(ctx, sub.ID, "https://push.example.com/stale")
	if err != nil || cleared {
		t.Fatalf("a different endpoint must not be cleared: %v %v", cleared, err)
	}
	got, _ = repo.Get(ctx, sub.ID)
	if got.PushCredential == nil {
		t.Fatalf("current push credential was wiped")
	}
	cleared, err = repo.ClearPushEndpoint(ctx, sub.ID, got.PushCredential.Endpoint)
	if err != nil || !cleared {
		t.Fatalf("ClearPushEndpoint: %v %v", cleared, err)
	}
	got, _ = repo.Get(ctx, sub.ID)
	if got.PushCredential != nil || !got.EmailEnabled {
		t.Fatalf("clearing push must keep email: %+v", got)
	}

	if err := repo.Deactivate(ctx, sub.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	active, err := repo.ListActive(ctx)
	if err != nil || len(active) != 0 {
		t.Fatalf("ListActive after deactivate: %d %v", len(active), err)
	}

	if _, err := repo.Get(ctx, 999); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestSubscriptionRepositoryMalformedFilter(t *testing.T) {
	db := newTestDB(t)
	repo := NewSubscriptionRepository(db)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	rows := []SubscriptionModel{
		{UserID: "good", Filter: `{"city":"Bali"}`, LastCheckedAt: now, Active: true},
		{UserID: "bad", Filter: `{"city":`, LastCheckedAt: now, Active: true},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	subs, err := repo.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected both rows, got %d", len(subs))
	}
	for _, s := range subs {
		switch s.UserID {
		case "good":
			if s.FilterErr != nil {
				t.Fatalf("good filter flagged: %v", s.FilterErr)
			}
		case "bad":
			if !errors.Is(s.FilterErr, domain.ErrInvalidFilter) {
				t.Fatalf("bad filter not flagged: %v", s.FilterErr)
			}
		}
	}
}

func TestListingReaderFind(t *testing.T) {
	db := newTestDB(t)
	reader := NewListingReader(db)
	today := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

	seedListing(t, db, ListingModel{ID: "A", Title: "Rumah Kemang", City: "Jakarta", Price: decimal.NewFromInt(1_500_000_000), PropertyType: "house", ListingType: "sale", Bedrooms: 3, CreatedAt: today})
	seedListing(t, db, ListingModel{ID: "B", Title: "Villa Ubud", City: "Bali", Price: decimal.NewFromInt(1_000_000_000), PropertyType: "villa", ListingType: "sale", Bedrooms: 2, CreatedAt: today})
	seedListing(t, db, ListingModel{ID: "C", Title: "Rumah Lama", City: "Jakarta", Price: decimal.NewFromInt(900_000_000), PropertyType: "house", ListingType: "sale", Bedrooms: 2, CreatedAt: today, Status: "sold"})
	seedListing(t, db, ListingModel{ID: "D", Title: "Apartemen", City: "Jakarta", Price: decimal.NewFromInt(3_000_000_000), PropertyType: "apartment", ListingType: "sale", Bedrooms: 2, CreatedAt: today})

	maxPrice := decimal.NewFromInt(2_000_000_000)
	since := today.Add(-time.Hour)
	got, err := reader.Find(context.Background(), domain.ListingQuery{
		Filter:      domain.Filter{City: strPtr("jakarta"), MaxPrice: &maxPrice},
		CreatedFrom: &since,
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || got[0].ID != "A" {
		t.Fatalf("expected exactly [A], got %v", ids(got))
	}

	got, err = reader.Find(context.Background(), domain.ListingQuery{
		Filter:      domain.Filter{City: strPtr("jakarta"), MaxPrice: &maxPrice},
		IgnorePrice: true,
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ignoring price should return A and D, got %v", ids(got))
	}

	before := today
	got, err = reader.Find(context.Background(), domain.ListingQuery{CreatedBefore: &before})
	if err != nil || len(got) != 0 {
		t.Fatalf("CreatedBefore is exclusive, got %v %v", ids(got), err)
	}
}

func TestListingReaderCityWildcardsAreLiteral(t *testing.T) {
	db := newTestDB(t)
	reader := NewListingReader(db)
	listings := []*domain.Listing{
		{ID: "A", City: "Jakarta", CreatedAt: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)},
		{ID: "B", City: "Ja_karta", CreatedAt: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)},
		{ID: "C", City: "Bali 100%", CreatedAt: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)},
	}
	for _, l := range listings {
		seedListing(t, db, ListingModel{ID: l.ID, Title: l.ID, City: l.City, Price: decimal.NewFromInt(100), CreatedAt: l.CreatedAt})
		l.Status = "active"
	}

	for _, city := range []string{"a_k", "100%", "%", "!"} {
		filter := domain.Filter{City: strPtr(city)}
		got, err := reader.Find(context.Background(), domain.ListingQuery{Filter: filter})
		if err != nil {
			t.Fatalf("Find(%q): %v", city, err)
		}
		var want []string
		for _, l := range listings {
			if filter.Matches(l) {
				want = append(want, l.ID)
			}
		}
		if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
			t.Fatalf("city %q: sql=%v in-memory=%v", city, ids(got), want)
		}
	}
}

func TestListingReaderCursor(t *testing.T) {
	db := newTestDB(t)
	reader := NewListingReader(db)
	at := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	for _, id := range []string{"A", "B", "C"} {
		seedListing(t, db, ListingModel{ID: id, Title: id, City: "Bali", Price: decimal.NewFromInt(100), CreatedAt: at})
	}
	seedListing(t, db, ListingModel{ID: "D", Title: "D", City: "Bali", Price: decimal.NewFromInt(100), CreatedAt: at.Add(-time.Hour)})

	first, err := reader.Find(context.Background(), domain.ListingQuery{Limit: 2})
	if err != nil || fmt.Sprint(ids(first)) != "[A B]" {
		t.Fatalf("first page: %v %v", ids(first), err)
	}
	rest, err := reader.Find(context.Background(), domain.ListingQuery{After: domain.CursorOf(first[1]), Limit: 2})
	if err != nil || fmt.Sprint(ids(rest)) != "[C D]" {
		t.Fatalf("second page: %v %v", ids(rest), err)
	}
}

func TestPriceBaselineRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewPriceBaselineRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

	err := repo.RecordFirstSeen(ctx, []*domain.PriceBaseline{
		{SubscriptionID: 1, ListingID: "A", FirstSeenPrice: decimal.NewFromInt(1_000_000_000), FirstSeenAt: now, UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("RecordFirstSeen: %v", err)
	}
	// 已存在的基线不覆盖
	err = repo.RecordFirstSeen(ctx, []*domain.PriceBaseline{
		{SubscriptionID: 1, ListingID: "A", FirstSeenPrice: decimal.NewFromInt(1), FirstSeenAt: now, UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("RecordFirstSeen again: %v", err)
	}

	got, err := repo.ListBySubscription(ctx, 1, []string{"A", "B"})
	if err != nil {
		t.Fatalf("ListBySubscription: %v", err)
	}
	if len(got) != 1 || !got["A"].FirstSeenPrice.Equal(decimal.NewFromInt(1_000_000_000)) || got["A"].LastNotifiedPrice != nil {
		t.Fatalf("unexpected baselines: %+v", got)
	}

	if err := repo.MarkNotified(ctx, 1, "A", decimal.NewFromInt(880_000_000)); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	got, _ = repo.ListBySubscription(ctx, 1, []string{"A"})
	b := got["A"]
	if b.LastNotifiedPrice == nil || !b.LastNotifiedPrice.Equal(decimal.NewFromInt(880_000_000)) {
		t.Fatalf("last notified price not recorded: %+v", b)
	}
	if !b.FirstSeenPrice.Equal(decimal.NewFromInt(1_000_000_000)) {
		t.Fatalf("first seen price must be preserved, got %s", b.FirstSeenPrice)
	}
}

func TestInteractionRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewInteractionRepository(db)
	rec := &domain.InteractionRecord{NotificationID: "42", Type: "price_drop", Action: "view", Timestamp: time.Now().UTC(), ReceivedAt: time.Now().UTC()}
	if err := repo.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("id not assigned")
	}
}

func ids(ls []*domain.Listing) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.ID
	}
	return out
}
