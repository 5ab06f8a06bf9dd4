package notification

import (
	"Go2NetSentinel/internal/config"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestEmailNotifierSend(t *testing.T) {
	n := NewEmailNotifier(config.SMTPConfig{
		Host: "mail.example.com",
		Port: 587,
		From: "sentinel@example.com",
		To:   "soc@example.com, oncall@example.com,",
	}).(*EmailNotifier)

	var gotAddr string
	var gotTo []string
	var gotMsg string
	n.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	if err := n.Send("Alert:\r\nsyn_flood", "<p>body</p>"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotAddr != "mail.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if len(gotTo) != 2 || gotTo[1] != "oncall@example.com" {
		t.Errorf("recipients = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Alert:  syn_flood\r\n") {
		t.Errorf("subject header not sanitized: %q", gotMsg)
	}
	if !strings.HasSuffix(gotMsg, "\r\n\r\n<p>body</p>") {
		t.Errorf("body not appended after headers: %q", gotMsg)
	}
}

func TestEmailNotifierNoRecipients(t *testing.T) {
	n := NewEmailNotifier(config.SMTPConfig{Host: "mail.example.com", Port: 25})
	if err := n.Send("s", "b"); err == nil {
		t.Error("expected error without recipients")
	}
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(buildMessage("a@example.com", []string{"b@example.com"}, "s", "b", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	for _, h := range []string{"To: b@example.com\r\n", "From: a@example.com\r\n", "Date: Wed, 01 May 2024 12:00:00 +0000\r\n", "Content-Type: text/html; charset=UTF-8\r\n"} {
		if !strings.Contains(msg, h) {
			t.Errorf("missing header %q in %q", h, msg)
		}
	}
}
