package cache

import "testing"

func TestPressureMonitorIsEdgeTriggered(t *testing.T) {
	c := newTestMemory(t, MemoryOptions{})
	monitor := NewPressureMonitor(100, 0)
	used := uint64(50)
	monitor.read = func() uint64 { return used }
	monitor.Watch(c)

	c.Set("k", 1, 1)
	if monitor.Check() {
		t.Fatalf("no warning expected below the limit")
	}

	used = 150
	if !monitor.Check() {
		t.Fatalf("expected warning above the limit")
	}
	if c.TotalCount() != 0 {
		t.Fatalf("memory warning should clear the cache")
	}

	c.Set("k", 1, 1)
	if monitor.Check() {
		t.Fatalf("warning should not repeat while pressure persists")
	}
	if c.TotalCount() != 1 {
		t.Fatalf("cache should be untouched by the repeated sample")
	}

	used = 10
	monitor.Check()
	used = 200
	if !monitor.Check() {
		t.Fatalf("expected a new warning after pressure was relieved")
	}
}

func TestPressureMonitorDisabledWithoutLimit(t *testing.T) {
	monitor := &PressureMonitor{read: func() uint64 { return 1 << 40 }}
	if monitor.Check() {
		t.Fatalf("monitor without a limit must never fire")
	}
}
