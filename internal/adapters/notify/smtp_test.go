package notify

import (
	"context"
	"strings"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("daq@example.org", []string{"ops@example.org", "rf@example.org"},
		"Failure Report", "line one\nline two\n"))

	for _, want := range []string{
		"From: daq@example.org\r\n",
		"To: ops@example.org,rf@example.org\r\n",
		"Subject: Failure Report\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}

	// SMTP wants CRLF line endings in the body too.
	if !strings.HasSuffix(msg, "\r\n\r\nline one\r\nline two\r\n") {
		t.Fatalf("unexpected body framing:\n%q", msg)
	}
}

func TestNotifyNoRecipients(t *testing.T) {
	s := NewEmailSender("localhost:25", "daq@example.org", nil)
	if err := s.Notify(context.Background(), "subject", "body"); err != nil {
		t.Fatalf("expected no-op without recipients, got %v", err)
	}
}
