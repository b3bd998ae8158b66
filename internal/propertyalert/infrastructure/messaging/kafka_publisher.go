package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/mq"
)

// Envelope 发布到 Kafka 的事件外层结构
type Envelope struct {
	EventType  string    `json:"event_type"`
	Payload    any       `json:"payload"`
	OccurredOn time.Time `json:"occurred_on"`
}

// KafkaEventPublisher 按事件类型路由到 Topic
type KafkaEventPublisher struct {
	producer *mq.Producer
	topics   map[string]string
}

func NewKafkaEventPublisher(producer *mq.Producer, alertTopic, interactionTopic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
		topics: map[string]string{
			domain.AlertDispatchedEventType:     alertTopic,
			domain.InteractionRecordedEventType: interactionTopic,
		},
	}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, eventType string, key string, event any) error {
	topic, ok := p.topics[eventType]
	if !ok || topic == "" {
		return fmt.Errorf("no topic configured for event type %s", eventType)
	}
	return p.producer.Publish(ctx, topic, key, Envelope{
		EventType:  eventType,
		Payload:    event,
		OccurredOn: time.Now(),
	})
}
