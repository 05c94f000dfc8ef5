package metrics

import "testing"

func TestRegisterCoreMetrics(t *testing.T) {
	reg := NewRegistry()
	RegisterCoreMetrics(reg)

	AcquireCounter.Inc()
	WaiterGauge.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"latch_acquire_total", "latch_waiters"} {
		if !names[want] {
			t.Fatalf("metric %s not registered", want)
		}
	}
}
