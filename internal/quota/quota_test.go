package quota

import (
	"sync"
	"testing"
)

func TestRecordCallWithinLimit(t *testing.T) {
	tracker := NewTracker(map[string]int{"finwire": 3})

	for i := 0; i < 3; i++ {
		if !tracker.RecordCall("finwire", 1) {
			t.Fatalf("call %d should be within quota", i+1)
		}
	}
	if tracker.RecordCall("finwire", 1) {
		t.Error("fourth call should exceed quota")
	}
	if tracker.Count("finwire") != 4 {
		t.Errorf("count = %d, want 4", tracker.Count("finwire"))
	}
}

func TestCheckQuotaDoesNotIncrement(t *testing.T) {
	tracker := NewTracker(map[string]int{"finwire": 1})

	for i := 0; i < 5; i++ {
		if !tracker.CheckQuota("finwire") {
			t.Fatal("CheckQuota must not consume quota")
		}
	}
	if tracker.Count("finwire") != 0 {
		t.Errorf("count = %d, want 0", tracker.Count("finwire"))
	}

	tracker.RecordCall("finwire", 1)
	if tracker.CheckQuota("finwire") {
		t.Error("quota should be exhausted after one call")
	}
}

func TestUnmeteredSource(t *testing.T) {
	tracker := NewTracker(nil)
	for i := 0; i < 1000; i++ {
		if !tracker.RecordCall("unknown", 1) {
			t.Fatal("unmetered source must never exhaust")
		}
	}
	if !tracker.CheckQuota("unknown") {
		t.Error("unmetered source must always have quota")
	}
}

func TestNoLostUpdatesUnderConcurrency(t *testing.T) {
	const callers = 100
	tracker := NewTracker(map[string]int{"finwire": 50})

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			tracker.RecordCall("finwire", 1)
		}()
	}
	wg.Wait()

	if got := tracker.Count("finwire"); got != callers {
		t.Errorf("count = %d, want %d (lost updates)", got, callers)
	}
}

func TestReset(t *testing.T) {
	tracker := NewTracker(map[string]int{"finwire": 1})
	tracker.RecordCall("finwire", 1)
	tracker.Reset()
	if tracker.Count("finwire") != 0 {
		t.Error("Reset must clear counters")
	}
	if !tracker.CheckQuota("finwire") {
		t.Error("quota must be available after Reset")
	}
}
