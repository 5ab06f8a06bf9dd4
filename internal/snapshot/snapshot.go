package snapshot

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"fmt"
	"log"
	"time"
)

// WriterFactory builds a writer from its definition.
type WriterFactory func(cfg *config.Config, def config.SnapshotWriterDef, interval time.Duration) (model.Writer, error)

var registry = make(map[string]WriterFactory)

// RegisterWriter makes a snapshot writer type available by name.
func RegisterWriter(name string, f WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("snapshot writer '%s' already registered", name))
	}
	registry[name] = f
}

func init() {
	RegisterWriter("gob", func(_ *config.Config, def config.SnapshotWriterDef, interval time.Duration) (model.Writer, error) {
		if def.RootPath == "" {
			return nil, fmt.Errorf("root_path is required for gob snapshots")
		}
		return NewGobWriter(def.RootPath, interval), nil
	})
	RegisterWriter("clickhouse", func(cfg *config.Config, _ config.SnapshotWriterDef, interval time.Duration) (model.Writer, error) {
		return NewClickHouseWriter(cfg.ClickHouse, interval)
	})
}

// FromConfig creates every enabled snapshot writer.
func FromConfig(cfg *config.Config) ([]model.Writer, error) {
	var writers []model.Writer
	for _, def := range cfg.Snapshot.Writers {
		if !def.Enabled {
			continue
		}
		f, ok := registry[def.Type]
		if !ok {
			return nil, fmt.Errorf("unknown snapshot writer type: '%s'", def.Type)
		}
		interval, err := time.ParseDuration(def.SnapshotInterval)
		if err != nil || interval <= 0 {
			return nil, fmt.Errorf("invalid snapshot_interval '%s' for writer '%s'", def.SnapshotInterval, def.Type)
		}
		w, err := f(cfg, def, interval)
		if err != nil {
			return nil, fmt.Errorf("error creating snapshot writer '%s': %w", def.Type, err)
		}
		log.Printf("Created snapshot writer '%s' with interval %s", def.Type, interval)
		writers = append(writers, w)
	}
	return writers, nil
}
