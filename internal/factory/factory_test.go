package factory

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"context"
	"errors"
	"testing"
)

type nopDispatcher struct{}

func (nopDispatcher) GenerateAlert(context.Context, model.ThreatEvent, model.PacketContext) error {
	return nil
}

func TestCreateDispatchers(t *testing.T) {
	RegisterDispatcher("test_nop", func(*config.Config) (model.Dispatcher, error) { return nopDispatcher{}, nil })
	RegisterDispatcher("test_broken", func(*config.Config) (model.Dispatcher, error) { return nil, errors.New("boom") })

	cfg := config.Default()
	cfg.Alert.Dispatchers = []config.DispatcherDef{
		{Type: "test_nop", Enabled: true},
		{Type: "test_broken", Enabled: false},
	}
	got, err := CreateDispatchers(cfg)
	if err != nil {
		t.Fatalf("CreateDispatchers failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "test_nop" {
		t.Errorf("unexpected dispatchers: %+v", got)
	}

	cfg.Alert.Dispatchers[1].Enabled = true
	if _, err := CreateDispatchers(cfg); err == nil {
		t.Error("expected factory error to propagate")
	}

	cfg.Alert.Dispatchers = []config.DispatcherDef{{Type: "carrier_pigeon", Enabled: true}}
	if _, err := CreateDispatchers(cfg); err == nil {
		t.Error("expected unknown type error")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	RegisterDispatcher("test_dup", func(*config.Config) (model.Dispatcher, error) { return nopDispatcher{}, nil })
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	RegisterDispatcher("test_dup", func(*config.Config) (model.Dispatcher, error) { return nopDispatcher{}, nil })
}
