package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   bool
	}{
		{"empty", Config{}, false},
		{"missing from", Config{Host: "smtp.example.com", Port: "587"}, false},
		{"missing host", Config{Port: "587", From: "noreply@example.com"}, false},
		{"complete", Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewService(tt.config).IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func captureService() (*Service, *[]capturedMail) {
	svc := NewService(Config{
		Host:     "smtp.example.com",
		Port:     "587",
		From:     "noreply@example.com",
		FromName: "Tribune",
	})
	var sent []capturedMail
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, capturedMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return svc, &sent
}

func TestSendEmailHeaders(t *testing.T) {
	svc, sent := captureService()

	if err := svc.SendEmail([]string{"a@example.com", "b@example.com"}, "Hello", "Body text"); err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(*sent))
	}
	mail := (*sent)[0]
	if mail.addr != "smtp.example.com:587" {
		t.Errorf("addr = %q", mail.addr)
	}
	if mail.from != "noreply@example.com" {
		t.Errorf("envelope from = %q", mail.from)
	}
	for _, want := range []string{
		"To: a@example.com, b@example.com",
		"From: Tribune <noreply@example.com>",
		"Subject: Hello",
		"Body text",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Errorf("message missing %q:\n%s", want, mail.msg)
		}
	}
}

func TestSendEmailNoRecipients(t *testing.T) {
	svc, sent := captureService()
	if err := svc.SendEmail(nil, "Hello", "Body"); err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if len(*sent) != 0 {
		t.Errorf("expected no send for empty recipient list")
	}
}

func TestNotifyReviewRequestedLabels(t *testing.T) {
	svc, sent := captureService()

	if err := svc.NotifyReviewRequested([]string{"r@example.com"}, "Budget 2027", "Editorial review", "", ""); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains((*sent)[0].msg, "Pass / Decline") {
		t.Errorf("default labels missing:\n%s", (*sent)[0].msg)
	}

	if err := svc.NotifyReviewRequested([]string{"r@example.com"}, "Budget 2027", "Editorial review", "Endorse", "Veto"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains((*sent)[1].msg, "Endorse / Veto") {
		t.Errorf("custom labels missing:\n%s", (*sent)[1].msg)
	}
}

func TestNotifyAppealOpened(t *testing.T) {
	svc, sent := captureService()
	if err := svc.NotifyAppealOpened([]string{"r@example.com"}, "Budget 2027", "Editorial review"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg := (*sent)[0].msg
	if !strings.Contains(msg, "Subject: Appeal opened: Budget 2027") || !strings.Contains(msg, "has been appealed") {
		t.Errorf("unexpected message:\n%s", msg)
	}
}
