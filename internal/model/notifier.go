package model

import "context"

// Notifier defines a generic interface for sending notifications.
type Notifier interface {
	Send(subject, body string) error
}

// Dispatcher delivers a threat event together with its packet context.
// Implementations log delivery failures themselves; the returned error is
// informational and never stops the detection loop.
type Dispatcher interface {
	GenerateAlert(ctx context.Context, threat ThreatEvent, pctx PacketContext) error
}
