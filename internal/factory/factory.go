package factory

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"fmt"
	"log"
	"sort"
)

// NamedDispatcher pairs a dispatcher with the type it was created from.
type NamedDispatcher struct {
	Name       string
	Dispatcher model.Dispatcher
}

// DispatcherFactory defines a function that creates an alert dispatcher.
type DispatcherFactory func(cfg *config.Config) (model.Dispatcher, error)

// registry holds the mapping of dispatcher types to their factory functions.
var registry = make(map[string]DispatcherFactory)

// RegisterDispatcher registers a new dispatcher type with its factory function.
func RegisterDispatcher(name string, factory DispatcherFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("dispatcher type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered returns the registered dispatcher types in sorted order.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateDispatchers creates every enabled dispatcher in cfg.Alert.Dispatchers.
func CreateDispatchers(cfg *config.Config) ([]NamedDispatcher, error) {
	var dispatchers []NamedDispatcher

	for _, def := range cfg.Alert.Dispatchers {
		if !def.Enabled {
			continue
		}
		log.Printf("Creating alert dispatcher of type: '%s'", def.Type)

		factory, ok := registry[def.Type]
		if !ok {
			return nil, fmt.Errorf("unknown dispatcher type: '%s'", def.Type)
		}

		d, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("error creating dispatcher type '%s': %w", def.Type, err)
		}
		dispatchers = append(dispatchers, NamedDispatcher{Name: def.Type, Dispatcher: d})
	}

	return dispatchers, nil
}
