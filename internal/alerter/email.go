package alerter

import (
	"Go2NetSentinel/internal/model"
	"context"
	"fmt"
	"html"
)

// EmailDispatcher renders alerts as HTML and sends them through a Notifier.
type EmailDispatcher struct {
	notifier model.Notifier
}

// NewEmailDispatcher creates a dispatcher sending through notifier.
func NewEmailDispatcher(notifier model.Notifier) *EmailDispatcher {
	return &EmailDispatcher{notifier: notifier}
}

func (d *EmailDispatcher) GenerateAlert(_ context.Context, t model.ThreatEvent, pc model.PacketContext) error {
	subject := fmt.Sprintf("Go2NetSentinel Alert: %s (%s)", t.RuleID, t.Severity)
	if err := d.notifier.Send(subject, renderHTML(t, pc)); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

func renderHTML(t model.ThreatEvent, pc model.PacketContext) string {
	return fmt.Sprintf("<h3>Alert: %s</h3>"+
		"<ul>"+
		"<li><b>Kind:</b> <code>%s</code></li>"+
		"<li><b>Severity:</b> <code>%s</code></li>"+
		"<li><b>Flow:</b> <code>%s:%d &rarr; %s:%d</code></li>"+
		"<li><b>Confidence:</b> <code>%.2f</code></li>"+
		"<li><b>Score:</b> <code>%.2f</code></li>"+
		"<li><b>Detected:</b> <code>%s</code></li>"+
		"</ul>"+
		"<p>%s</p>",
		html.EscapeString(t.RuleID), t.Kind, t.Severity,
		html.EscapeString(pc.SourceIP), pc.SourcePort, html.EscapeString(pc.DestinationIP), pc.DestinationPort,
		t.Confidence, t.Score, t.DetectedAt.UTC().Format("2006-01-02 15:04:05.000"),
		html.EscapeString(t.Description))
}
