package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}

func TestRegisterAndCollect(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.PacketsProcessed.Add(3)
	m.ActiveFlows.Set(7)
	m.Threats.WithLabelValues("signature", "syn_flood").Inc()
	m.Threats.WithLabelValues("anomaly", "anomaly").Inc()

	if got := gatherValue(t, reg, "ns_sentinel_packets_processed_total"); got != 3 {
		t.Errorf("packets processed = %v, want 3", got)
	}
	if got := gatherValue(t, reg, "ns_sentinel_active_flows"); got != 7 {
		t.Errorf("active flows = %v, want 7", got)
	}
	if got := gatherValue(t, reg, "ns_sentinel_threats_total"); got != 2 {
		t.Errorf("threats = %v, want 2", got)
	}

	if err := m.Register(reg); err == nil {
		t.Error("registering twice should fail")
	}
}
