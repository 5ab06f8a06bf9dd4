package alerter

import (
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"context"
	"io"
	"sync"
	"time"
)

const cooldownPruneSize = 10000

// Cooldown suppresses repeats of the same rule on the same flow within a window.
type Cooldown struct {
	next    model.Dispatcher
	window  time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown wraps next.
func NewCooldown(next model.Dispatcher, window time.Duration, m *metrics.Metrics) *Cooldown {
	if m == nil {
		m = metrics.New()
	}
	return &Cooldown{
		next:    next,
		window:  window,
		metrics: m,
		now:     time.Now,
		last:    make(map[string]time.Time),
	}
}

func (c *Cooldown) GenerateAlert(ctx context.Context, t model.ThreatEvent, pc model.PacketContext) error {
	key := t.RuleID + "|" + t.Features.Key.String()
	now := c.now()

	c.mu.Lock()
	if prev, ok := c.last[key]; ok && now.Sub(prev) < c.window {
		c.mu.Unlock()
		c.metrics.AlertsSuppressed.Inc()
		return nil
	}
	c.last[key] = now
	if len(c.last) > cooldownPruneSize {
		for k, ts := range c.last {
			if now.Sub(ts) >= c.window {
				delete(c.last, k)
			}
		}
	}
	c.mu.Unlock()

	return c.next.GenerateAlert(ctx, t, pc)
}

// Close closes the wrapped dispatcher.
func (c *Cooldown) Close() error {
	if closer, ok := c.next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
