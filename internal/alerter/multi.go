package alerter

import (
	"Go2NetSentinel/internal/factory"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"context"
	"errors"
	"fmt"
	"io"
)

// Multi fans every alert out to all dispatchers. A failing dispatcher does not
// stop delivery to the others; all failures are joined.
type Multi struct {
	dispatchers []factory.NamedDispatcher
	metrics     *metrics.Metrics
}

// NewMulti creates a fan-out dispatcher.
func NewMulti(m *metrics.Metrics, dispatchers ...factory.NamedDispatcher) *Multi {
	if m == nil {
		m = metrics.New()
	}
	return &Multi{dispatchers: dispatchers, metrics: m}
}

func (d *Multi) GenerateAlert(ctx context.Context, t model.ThreatEvent, pc model.PacketContext) error {
	var errs []error
	for _, nd := range d.dispatchers {
		if err := nd.Dispatcher.GenerateAlert(ctx, t, pc); err != nil {
			d.metrics.DispatchErrors.WithLabelValues(nd.Name).Inc()
			errs = append(errs, fmt.Errorf("dispatcher '%s': %w", nd.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every dispatcher that holds resources.
func (d *Multi) Close() error {
	var errs []error
	for _, nd := range d.dispatchers {
		if c, ok := nd.Dispatcher.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dispatcher '%s': %w", nd.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}
