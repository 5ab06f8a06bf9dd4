package capture

import (
	"Go2NetSentinel/internal/config"
	"context"
	"fmt"
)

// Source produces decoded packets into a queue.
type Source interface {
	// Start opens the source and begins producing in the background.
	// It returns once the source is open.
	Start(ctx context.Context, q *Queue) error
	// Stop halts production. It is safe to call more than once.
	Stop()
	// Done is closed when the source will produce no more packets.
	Done() <-chan struct{}
}

// Opener builds a Source from configuration.
type Opener func(cfg *config.Config) (Source, error)

var openers = make(map[string]Opener)

// RegisterSource registers a capture source type with its constructor.
func RegisterSource(name string, opener Opener) {
	if _, exists := openers[name]; exists {
		panic(fmt.Sprintf("capture source '%s' already registered", name))
	}
	openers[name] = opener
}

// Open creates the source selected by cfg.Capture.Source.
func Open(cfg *config.Config) (Source, error) {
	opener, ok := openers[cfg.Capture.Source]
	if !ok {
		return nil, fmt.Errorf("unknown capture source: '%s'", cfg.Capture.Source)
	}
	return opener(cfg)
}

func init() {
	RegisterSource("pcap", func(cfg *config.Config) (Source, error) {
		if cfg.Capture.PcapFile == "" {
			return nil, fmt.Errorf("capture.pcap_file is required for the pcap source")
		}
		return NewFileSource(cfg.Capture.PcapFile), nil
	})
	RegisterSource("nats", func(cfg *config.Config) (Source, error) {
		return NewNATSSource(cfg.Probe), nil
	})
}
