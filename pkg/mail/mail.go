// Package mail sends HTML notifications over SMTP.
package mail

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/noah-isme/memo-registry-api/pkg/config"
)

// SMTPSender delivers messages through a single SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender builds a sender from configuration. It returns nil when no host is configured.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil
	}
	from := cfg.Sender
	if from == "" {
		from = cfg.Username
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

// Send delivers an HTML message to a single recipient.
func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if s == nil {
		return fmt.Errorf("smtp sender not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.Contains(to, "@") {
		return fmt.Errorf("invalid recipient %q", to)
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
