package grid_go

import "testing"

func TestRegistryOrderAndStatus(t *testing.T) {
	r := NewRegistry()
	execs := make(chan dispatched)
	for _, id := range []string{"A", "B", "C"} {
		if !r.Register(id, newFakeEngine(id, execs)) {
			t.Fatalf("Register(%s) = false", id)
		}
	}
	if r.Register("B", newFakeEngine("B", execs)) {
		t.Fatalf("second Register(B) = true")
	}
	if r.Len() != 3 || r.CountIdle() != 3 {
		t.Fatalf("len=%d idle=%d", r.Len(), r.CountIdle())
	}

	r.SetStatus("A", Busy)
	if id, ok := r.firstIdle(nil); !ok || id != "B" {
		t.Fatalf("firstIdle = %s %v, want B", id, ok)
	}
	if id, ok := r.firstIdle(func(id string) bool { return id == "B" }); !ok || id != "C" {
		t.Fatalf("firstIdle skipping B = %s %v, want C", id, ok)
	}

	if !r.Unregister("B") || r.Unregister("B") {
		t.Fatalf("Unregister(B) not applied exactly once")
	}
	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "A" || ids[1] != "C" {
		t.Fatalf("ids = %v", ids)
	}
	ids[0] = "mutated"
	if r.IDs()[0] != "A" {
		t.Fatalf("IDs exposed internal order")
	}

	if s, ok := r.Status("B"); ok || s != EngineFaulted {
		t.Fatalf("Status(B) = %s %v", s, ok)
	}
	if r.SetStatus("B", Idle) {
		t.Fatalf("SetStatus on unknown engine succeeded")
	}
	if _, ok := r.Engine("C"); !ok || !r.Contains("C") {
		t.Fatalf("C missing")
	}
	r.SetStatus("C", EngineFaulted)
	if _, ok := r.firstIdle(nil); ok {
		t.Fatalf("found an idle engine with none idle")
	}
}
