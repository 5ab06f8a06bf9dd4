package alerter

import (
	"Go2NetSentinel/internal/model"
	"context"
	"log"
)

// LogDispatcher writes every alert to a logger.
type LogDispatcher struct {
	logger *log.Logger
}

// NewLogDispatcher creates a dispatcher writing to logger, or to the standard
// logger when nil.
func NewLogDispatcher(logger *log.Logger) *LogDispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) GenerateAlert(_ context.Context, t model.ThreatEvent, pc model.PacketContext) error {
	d.logger.Printf("ALERT [%s] %s/%s %s:%d -> %s:%d confidence=%.2f score=%.2f: %s",
		t.Severity, t.Kind, t.RuleID,
		pc.SourceIP, pc.SourcePort, pc.DestinationIP, pc.DestinationPort,
		t.Confidence, t.Score, t.Description)
	return nil
}
