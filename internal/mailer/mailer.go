// Package mailer delivers HTML email over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/mail.v2"
)

var ErrNoRecipients = errors.New("no recipients")

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends messages through one SMTP relay, at most one every two seconds
// after an initial burst of three.
type SMTP struct {
	dialer  *mail.Dialer
	from    string
	limiter *rate.Limiter
}

// NewSMTP creates an SMTP sender.
func NewSMTP(cfg Config) *SMTP {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.Timeout = 15 * time.Second
	return &SMTP{
		dialer:  d,
		from:    cfg.From,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 3),
	}
}

// Send delivers one HTML message to all recipients.
func (s *SMTP) Send(ctx context.Context, to []string, subject, html string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	slog.Info("mail sent", "subject", subject, "recipients", len(to))
	return nil
}

// Log writes messages to the log instead of sending them. It is used when no
// SMTP host is configured.
type Log struct{}

func (Log) Send(_ context.Context, to []string, subject, html string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	slog.Info("mail not sent, smtp not configured", "subject", subject, "recipients", to, "bytes", len(html))
	return nil
}
