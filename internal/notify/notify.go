// Package notify delivers rendered notifications to clients.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/config"
)

// Notifier sends one message and returns the provider message id.
type Notifier interface {
	Send(ctx context.Context, to, subject, bodyHTML string) (string, error)
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP sends HTML mail through a relay.
type SMTP struct {
	addr string
	host string
	from string
	auth smtp.Auth
	send sendFunc
	now  func() time.Time
}

// NewSMTP builds a notifier from the SMTP_* settings.
func NewSMTP(cfg config.Config) (*SMTP, error) {
	if cfg.SMTPHost == "" {
		return nil, errors.New("SMTP_HOST is not configured")
	}
	if cfg.SMTPFrom == "" {
		return nil, errors.New("SMTP_FROM is not configured")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	s := &SMTP{
		addr: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(port)),
		host: cfg.SMTPHost,
		from: cfg.SMTPFrom,
		send: smtp.SendMail,
		now:  time.Now,
	}
	if cfg.SMTPUsername != "" {
		s.auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return s, nil
}

func (s *SMTP) Send(ctx context.Context, to, subject, bodyHTML string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.ContainsAny(to, "\r\n") || !strings.Contains(to, "@") {
		return "", apperr.Permanent(fmt.Errorf("invalid recipient %q", to))
	}
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	msg := s.message(id, to, subject, bodyHTML)

	done := make(chan error, 1)
	go func() { done <- s.send(s.addr, s.auth, s.from, []string{to}, msg) }()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", classify(err)
		}
	}
	return id, nil
}

func (s *SMTP) message(id, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + s.from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + strings.NewReplacer("\r", " ", "\n", " ").Replace(subject) + "\r\n")
	b.WriteString("Message-ID: " + id + "\r\n")
	b.WriteString("Date: " + s.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// classify marks 5xx SMTP replies as permanent; everything else retries.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return apperr.Permanent(fmt.Errorf("smtp rejected message: %w", err))
	}
	return fmt.Errorf("smtp send: %w", err)
}
