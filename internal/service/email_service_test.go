package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/affiliflow/internal/config"
)

func TestBuildEmailMessageEncodesHeaders(t *testing.T) {
	from := buildFromAddress("alerts@example.com", "风控提醒")
	msg := buildEmailMessage(from, "merchant@example.com", "Conversion #7 flagged", "body text")
	if !strings.Contains(msg, "To: merchant@example.com\r\n") {
		t.Fatalf("missing to header: %q", msg)
	}
	if !strings.Contains(msg, "=?UTF-8?q?") {
		t.Fatalf("expected encoded from name: %q", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\nbody text") {
		t.Fatalf("body should follow blank line: %q", msg)
	}
	if got := buildFromAddress("alerts@example.com", " "); got != "alerts@example.com" {
		t.Fatalf("empty name should keep bare address, got %q", got)
	}
}

func TestSendTextEmailGuards(t *testing.T) {
	disabled := NewEmailService(&config.EmailConfig{Enabled: false})
	if err := disabled.SendCustomEmail("a@example.com", "s", "b"); !errors.Is(err, ErrEmailServiceDisabled) {
		t.Fatalf("want disabled error, got %v", err)
	}

	missingHost := NewEmailService(&config.EmailConfig{Enabled: true, Port: 25, From: "x@example.com"})
	if err := missingHost.SendCustomEmail("a@example.com", "s", "b"); !errors.Is(err, ErrEmailServiceNotConfigured) {
		t.Fatalf("want not configured error, got %v", err)
	}

	badRecipient := NewEmailService(&config.EmailConfig{Enabled: true, Host: "smtp.example.com", Port: 25, From: "x@example.com"})
	if err := badRecipient.SendPayoutReleasedEmail("not-an-email", PayoutReleasedEmailInput{PayoutID: 1}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("want invalid email error, got %v", err)
	}
}

func TestIsEmailRecipientRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "smtp_550_no_such_recipient",
			err:  errors.New("550 No such recipient here"),
			want: true,
		},
		{
			name: "smtp_user_unknown",
			err:  errors.New("SMTP 5.1.1 user unknown"),
			want: true,
		},
		{
			name: "network_timeout",
			err:  errors.New("dial tcp timeout"),
			want: false,
		},
		{
			name: "nil_error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEmailRecipientRejected(tt.err); got != tt.want {
				t.Fatalf("isEmailRecipientRejected() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeEmailSendError(t *testing.T) {
	rejected := errors.New("550 No such recipient here")
	if got := normalizeEmailSendError(rejected); !errors.Is(got, ErrEmailRecipientRejected) {
		t.Fatalf("expected ErrEmailRecipientRejected, got %v", got)
	}
	networkErr := errors.New("dial tcp timeout")
	if got := normalizeEmailSendError(networkErr); !errors.Is(got, networkErr) {
		t.Fatalf("should keep original error, got %v", got)
	}
}
