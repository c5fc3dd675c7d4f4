package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

// EmailSender delivers plain-text mail through an unauthenticated relay,
// typically the site-local smarthost.
type EmailSender struct {
	server string
	from   string
	to     []string
}

func NewEmailSender(server, from string, to []string) *EmailSender {
	return &EmailSender{server: server, from: from, to: to}
}

func (s *EmailSender) Notify(_ context.Context, subject, body string) error {
	if len(s.to) == 0 {
		return nil
	}
	msg := buildMessage(s.from, s.to, subject, body)
	if err := smtp.SendMail(s.server, nil, s.from, s.to, msg); err != nil {
		return fmt.Errorf("send email via %s: %w", s.server, err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ","))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

var _ ports.Notifier = (*EmailSender)(nil)
