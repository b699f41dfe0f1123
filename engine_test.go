package grid_go

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type recordingReporter struct {
	mu       sync.Mutex
	statuses []EngineStatus
	faults   map[string]string
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{faults: make(map[string]string)}
}

func (r *recordingReporter) UpdateEngineStatus(_ string, s EngineStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recordingReporter) ReportTaskFault(_, taskID, reason string) {
	r.mu.Lock()
	r.faults[taskID] = reason
	r.mu.Unlock()
}

func (r *recordingReporter) snapshot() ([]EngineStatus, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := append([]EngineStatus(nil), r.statuses...)
	f := make(map[string]string, len(r.faults))
	for k, v := range r.faults {
		f[k] = v
	}
	return s, f
}

type closingInvoker struct {
	Methods
	closed *int
}

func (c closingInvoker) Close() error {
	*c.closed++
	return nil
}

func testCapabilities(closed *int) *Capabilities {
	caps := NewCapabilities()
	caps.MustRegister("samples", "Echo", func() (Invoker, error) {
		return closingInvoker{
			Methods: Methods{
				"Run":   func(context.Context, Arguments) error { return nil },
				"Fail":  func(context.Context, Arguments) error { return errors.New("echo failed") },
				"Panic": func(context.Context, Arguments) error { panic("echo panicked") },
			},
			closed: closed,
		}, nil
	})
	caps.MustRegister("samples", "Broken", func() (Invoker, error) {
		return nil, errors.New("cannot construct")
	})
	return caps
}

func assertBusyThenIdle(t *testing.T, statuses []EngineStatus) {
	t.Helper()
	if len(statuses) != 2 || statuses[0] != Busy || statuses[1] != Idle {
		t.Fatalf("reported %v, want [Busy Idle]", statuses)
	}
}

func TestGridEngineExecuteSuccess(t *testing.T) {
	closed := 0
	rep := newRecordingReporter()
	e := NewGridEngine(testCapabilities(&closed), WithReporter(rep))

	if err := e.ExecuteTask(context.Background(), NewWorkDescriptor("T1", "samples", "Echo", "Run", nil)); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	statuses, faults := rep.snapshot()
	assertBusyThenIdle(t, statuses)
	if len(faults) != 0 {
		t.Fatalf("faults = %v", faults)
	}
	if closed != 1 {
		t.Fatalf("transient instance closed %d times, want 1", closed)
	}
	if e.Status() != Idle {
		t.Fatalf("status = %s", e.Status())
	}
	if _, ok := e.CurrentTask(); ok {
		t.Fatalf("current task still set")
	}
	if !strings.HasPrefix(e.ID(), enginePrefix+"_") {
		t.Fatalf("engine id %q", e.ID())
	}
}

func TestGridEngineReportsFailures(t *testing.T) {
	cases := []struct {
		name string
		d    WorkDescriptor
		want string
	}{
		{"operation error", NewWorkDescriptor("T1", "samples", "Echo", "Fail", nil), "echo failed"},
		{"panic", NewWorkDescriptor("T2", "samples", "Echo", "Panic", nil), "echo panicked"},
		{"unknown method", NewWorkDescriptor("T3", "samples", "Echo", "Nope", nil), ErrNoOperation.Error()},
		{"unknown capability", NewWorkDescriptor("T4", "samples", "Missing", "Run", nil), ErrUnknownCapability.Error()},
		{"factory error", NewWorkDescriptor("T5", "samples", "Broken", "Run", nil), "cannot construct"},
		{"unknown object", NewWorkDescriptor("T6", "samples", "Echo", "Run", nil).OnObject(HostObjectRef{EngineID: "E1", ObjectID: "nope"}), ErrUnknownObject.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			closed := 0
			rep := newRecordingReporter()
			e := NewGridEngine(testCapabilities(&closed), WithEngineID("E1"), WithReporter(rep))

			if err := e.ExecuteTask(context.Background(), tc.d); err != nil {
				t.Fatalf("ExecuteTask returned %v; failures are reported, not returned", err)
			}
			statuses, faults := rep.snapshot()
			assertBusyThenIdle(t, statuses)
			if !strings.Contains(faults[tc.d.ID], tc.want) {
				t.Fatalf("fault for %s = %q, want it to mention %q", tc.d.ID, faults[tc.d.ID], tc.want)
			}
		})
	}
}

func TestGridEngineObjects(t *testing.T) {
	closed := 0
	rep := newRecordingReporter()
	e := NewGridEngine(testCapabilities(&closed), WithEngineID("E1"), WithReporter(rep))
	ctx := context.Background()

	ref, err := e.CreateObject(ctx, NewWorkDescriptor("mk", "samples", "Echo", "", nil))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if ref.EngineID != "E1" {
		t.Fatalf("ref = %+v", ref)
	}
	if _, err := e.CreateObject(ctx, NewWorkDescriptor("mk2", "samples", "Missing", "", nil)); !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("CreateObject(missing) = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := e.ExecuteTask(ctx, NewWorkDescriptor("T", "samples", "Echo", "Run", nil).OnObject(ref)); err != nil {
			t.Fatal(err)
		}
	}
	if closed != 0 {
		t.Fatalf("persistent object closed after use")
	}
	if ids := e.Objects(); len(ids) != 1 || ids[0] != ref.ObjectID {
		t.Fatalf("objects = %v", ids)
	}

	// an object owned by another engine is not looked up locally
	other := ref
	other.EngineID = "E2"
	if err := e.ExecuteTask(ctx, NewWorkDescriptor("T9", "samples", "Echo", "Run", nil).OnObject(other)); err != nil {
		t.Fatal(err)
	}
	if _, faults := rep.snapshot(); !strings.Contains(faults["T9"], "another engine") {
		t.Fatalf("fault = %q", faults["T9"])
	}

	if err := e.ReleaseObject(ref.ObjectID); err != nil {
		t.Fatalf("ReleaseObject: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d after release", closed)
	}
	if err := e.ReleaseObject(ref.ObjectID); !errors.Is(err, ErrUnknownObject) {
		t.Fatalf("second release = %v", err)
	}
}

func TestGridEngineClose(t *testing.T) {
	closed := 0
	rep := newRecordingReporter()
	e := NewGridEngine(testCapabilities(&closed), WithReporter(rep))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := e.CreateObject(ctx, NewWorkDescriptor("mk", "samples", "Echo", "", nil)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed != 2 {
		t.Fatalf("closed = %d, want 2", closed)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := e.ExecuteTask(ctx, NewWorkDescriptor("T1", "samples", "Echo", "Run", nil)); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("ExecuteTask after close = %v", err)
	}
	if _, err := e.CreateObject(ctx, NewWorkDescriptor("mk", "samples", "Echo", "", nil)); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("CreateObject after close = %v", err)
	}
	if statuses, _ := rep.snapshot(); len(statuses) != 0 {
		t.Fatalf("closed engine reported %v", statuses)
	}
}

func TestGridEngineWithoutReporter(t *testing.T) {
	closed := 0
	e := NewGridEngine(testCapabilities(&closed))
	e.SetStatus(EngineFaulted)
	if e.Status() != EngineFaulted {
		t.Fatalf("SetStatus not kept")
	}
	if err := e.ExecuteTask(context.Background(), NewWorkDescriptor("T1", "samples", "Echo", "Fail", nil)); err != nil {
		t.Fatal(err)
	}
	if e.Status() != Idle {
		t.Fatalf("status after run = %s, want Idle", e.Status())
	}
}
