// Package alerter delivers threat events to log, NATS, email and ClickHouse sinks.
package alerter

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/factory"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/notification"
	"fmt"
	"log"
)

func init() {
	factory.RegisterDispatcher("log", func(*config.Config) (model.Dispatcher, error) {
		return NewLogDispatcher(nil), nil
	})
	factory.RegisterDispatcher("nats", func(cfg *config.Config) (model.Dispatcher, error) {
		return NewNATSDispatcher(cfg.Probe.NATSURL, cfg.Alert.NATSSubject)
	})
	factory.RegisterDispatcher("email", func(cfg *config.Config) (model.Dispatcher, error) {
		if cfg.SMTP.Host == "" || cfg.SMTP.To == "" {
			return nil, fmt.Errorf("smtp.host and smtp.to are required for email alerts")
		}
		return NewEmailDispatcher(notification.NewEmailNotifier(cfg.SMTP)), nil
	})
	factory.RegisterDispatcher("clickhouse", func(cfg *config.Config) (model.Dispatcher, error) {
		return NewClickHouseDispatcher(cfg.ClickHouse)
	})
}

// FromConfig builds the alert chain: the enabled dispatchers fanned out by
// Multi, optionally behind a Cooldown, optionally delivered asynchronously.
// The result implements io.Closer.
func FromConfig(cfg *config.Config, m *metrics.Metrics) (*Chain, error) {
	dispatchers, err := factory.CreateDispatchers(cfg)
	if err != nil {
		return nil, err
	}
	if len(dispatchers) == 0 {
		log.Println("Warning: no alert dispatchers enabled; threats will only be counted")
	}

	var d model.Dispatcher = NewMulti(m, dispatchers...)
	if cfg.Alert.Cooldown != "" {
		d = NewCooldown(d, config.MustDuration(cfg.Alert.Cooldown), m)
	}
	if cfg.Alert.Async {
		d = NewAsync(d, cfg.Alert.AsyncCapacity, m)
	}
	return &Chain{Dispatcher: d}, nil
}

// Chain is a composed dispatcher that owns its sinks.
type Chain struct {
	model.Dispatcher
}

// Close releases every sink in the chain.
func (c *Chain) Close() error {
	type closer interface{ Close() error }
	if cl, ok := c.Dispatcher.(closer); ok {
		return cl.Close()
	}
	return nil
}
