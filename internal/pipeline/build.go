package pipeline

import (
	"Go2NetSentinel/internal/alerter"
	"Go2NetSentinel/internal/capture"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detection"
	"Go2NetSentinel/internal/engine/flowtracker"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/snapshot"
	"context"
	"fmt"
	"log"
)

// Build assembles a driver from a validated configuration. The alert chain
// and snapshot writers are owned by the driver and closed when it stops.
// Binaries capturing from an interface must import capture/live.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Driver, error) {
	if m == nil {
		m = metrics.New()
	}
	policy, err := capture.ParsePolicy(cfg.Queue.Policy)
	if err != nil {
		return nil, err
	}

	engine, err := detection.Build(ctx, cfg.Detection, m)
	if err != nil {
		return nil, fmt.Errorf("failed to build detection engine: %w", err)
	}

	source, err := capture.Open(cfg)
	if err != nil {
		return nil, err
	}

	chain, err := alerter.FromConfig(cfg, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert dispatchers: %w", err)
	}

	writers, err := snapshot.FromConfig(cfg)
	if err != nil {
		chain.Close()
		return nil, err
	}

	tracker := flowtracker.New(cfg.Flow.NumShards, cfg.Flow.MaxFlows)
	if c := tracker.Capacity(); c != cfg.Flow.MaxFlows {
		log.Printf("Warning: flow.max_flows %d is enforced per shard; effective bound is %d flows.", cfg.Flow.MaxFlows, c)
	}

	d := NewDriver(
		source,
		capture.NewQueue(cfg.Queue.Capacity, policy),
		tracker,
		engine,
		chain,
		OptionsFromConfig(cfg),
		m,
	)
	for _, w := range writers {
		d.AddWriter(w)
	}
	d.closers = append(d.closers, chain)
	return d, nil
}
