package sender

import (
	"context"

	"github.com/wyfcoding/propertyalert/pkg/mq"
)

// KafkaEmailSender 将邮件指令发送到 Kafka，由专门的投递服务（如 SendGrid 适配器）执行
type KafkaEmailSender struct {
	producer *mq.Producer
	topic    string
}

// EmailCommand 发送到 Kafka 的邮件指令
type EmailCommand struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func NewKafkaEmailSender(producer *mq.Producer, topic string) *KafkaEmailSender {
	return &KafkaEmailSender{producer: producer, topic: topic}
}

// Send 使用收件人做 Key 保证同一接收者的时序性
func (s *KafkaEmailSender) Send(ctx context.Context, to, subject, html string) error {
	return s.producer.Publish(ctx, s.topic, to, EmailCommand{
		To:      to,
		Subject: subject,
		HTML:    html,
	})
}
