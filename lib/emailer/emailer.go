// Package emailer sends notification emails about recordings.
package emailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/onkernel/rtp-recorder/lib/logger"
)

// Emailer delivers a plain text message.
type Emailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTP sends through a relay with optional PLAIN auth.
type SMTP struct {
	Addr     string
	From     string
	Username string
	Password string
}

func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	host, _, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("invalid smtp address: %w", err)
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + to,
		"Subject: " + subject,
		"Date: " + time.Now().Format(time.RFC1123Z),
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.Addr, auth, s.From, []string{to}, []byte(msg))
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		logger.FromContext(ctx).Info("email sent", "to", to, "subject", subject)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Log only logs messages. It is used when no relay is configured.
type Log struct{}

func (Log) Send(ctx context.Context, to, subject, body string) error {
	logger.FromContext(ctx).Info("email not sent, no smtp relay configured", "to", to, "subject", subject, "body", body)
	return nil
}

// Render replaces ${key} placeholders in tmpl.
func Render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "${"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
