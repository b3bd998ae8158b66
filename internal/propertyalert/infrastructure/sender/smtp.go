package sender

import (
	"context"
	"fmt"

	"github.com/wyfcoding/propertyalert/pkg/config"
	"github.com/wyfcoding/propertyalert/pkg/logger"
	"gopkg.in/gomail.v2"
)

// mailDialer 抽象 gomail.Dialer
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender 通过 SMTP 发送 HTML 邮件
type SMTPSender struct {
	dialer mailDialer
	from   string
}

func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	logger.Info(ctx, "sending email", "target", to, "subject", subject)

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", to, err)
	}
	return nil
}
