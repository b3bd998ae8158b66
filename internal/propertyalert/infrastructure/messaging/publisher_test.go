package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/mq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type memoryWriter struct {
	msgs []kafka.Message
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func TestKafkaEventPublisherRoutesByType(t *testing.T) {
	w := &memoryWriter{}
	p := NewKafkaEventPublisher(mq.NewProducerWithWriter(w), "alerts", "interactions")
	ctx := context.Background()

	evt := domain.AlertDispatchedEvent{EventID: 7, UserID: "u1", Kind: domain.EventKindPriceDrop, ListingID: "P1"}
	if err := p.Publish(ctx, domain.AlertDispatchedEventType, "u1", evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Publish(ctx, domain.InteractionRecordedEventType, "n1", domain.InteractionRecordedEvent{NotificationID: "n1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Publish(ctx, "unknown.event", "k", nil); err == nil {
		t.Fatalf("unknown event type must be rejected")
	}

	if len(w.msgs) != 2 || w.msgs[0].Topic != "alerts" || w.msgs[1].Topic != "interactions" {
		t.Fatalf("unexpected routing: %+v", w.msgs)
	}
	var env struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(w.msgs[0].Value, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.EventType != domain.AlertDispatchedEventType || string(w.msgs[0].Key) != "u1" {
		t.Fatalf("unexpected envelope: %s key=%s", env.EventType, w.msgs[0].Key)
	}
}

func TestOutboxEventPublisher(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:outbox?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&OutboxMessage{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	p := NewOutboxEventPublisher(db)
	evt := domain.AlertDispatchedEvent{EventID: 7, UserID: "u1", Kind: domain.EventKindNewMatch, ListingID: "L1"}
	if err := p.Publish(context.Background(), domain.AlertDispatchedEventType, "u1", evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var msgs []OutboxMessage
	if err := db.Find(&msgs).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one outbox row, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Status != "pending" || m.EventKey != "u1" || m.EventType != domain.AlertDispatchedEventType || len(m.ID) != 36 {
		t.Fatalf("unexpected outbox row: %+v", m)
	}
	var decoded domain.AlertDispatchedEvent
	if err := json.Unmarshal([]byte(m.Payload), &decoded); err != nil || decoded.ListingID != "L1" {
		t.Fatalf("payload not decodable: %v %+v", err, decoded)
	}
}
