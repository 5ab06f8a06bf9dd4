package capture

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/probe"
	"context"
	"sync"
)

// NATSSource receives packets published by ns-probe.
type NATSSource struct {
	cfg      config.ProbeConfig
	sub      *probe.Subscriber
	done     chan struct{}
	stopOnce sync.Once
}

// NewNATSSource creates a source subscribed to cfg.Subject.
func NewNATSSource(cfg config.ProbeConfig) *NATSSource {
	return &NATSSource{cfg: cfg, done: make(chan struct{})}
}

// Start connects and subscribes. Received packets are offered to the queue
// under its overload policy.
func (s *NATSSource) Start(ctx context.Context, q *Queue) error {
	sub, err := probe.NewSubscriber(s.cfg)
	if err != nil {
		return err
	}
	if err := sub.Start(func(info *model.PacketInfo) { q.Offer(info) }); err != nil {
		sub.Close()
		return err
	}
	s.sub = sub

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()
	return nil
}

// Stop unsubscribes and closes the connection.
func (s *NATSSource) Stop() {
	s.stopOnce.Do(func() {
		if s.sub != nil {
			s.sub.Close()
		}
		close(s.done)
	})
}

// Done is closed once the source is stopped.
func (s *NATSSource) Done() <-chan struct{} {
	return s.done
}
