package grid_go

import (
	"errors"
	"testing"
)

func TestWorkDescriptorValidation(t *testing.T) {
	ref := HostObjectRef{EngineID: "E1", ObjectID: "O1"}
	cases := []struct {
		name    string
		d       WorkDescriptor
		execOK  bool
		createO bool
	}{
		{"complete", NewWorkDescriptor("T1", "samples", "Echo", "Run", nil), true, true},
		{"no id", NewWorkDescriptor("", "samples", "Echo", "Run", nil), false, true},
		{"no method", NewWorkDescriptor("T1", "samples", "Echo", "", nil), false, true},
		{"no type", NewWorkDescriptor("T1", "samples", "", "Run", nil), false, false},
		{"slash in module", NewWorkDescriptor("T1", "a/b", "Echo", "Run", nil), false, false},
		{"bound to object", NewWorkDescriptor("T1", "samples", "Echo", "Run", nil).OnObject(ref), true, false},
		{"half object ref", NewWorkDescriptor("T1", "samples", "Echo", "Run", nil).OnObject(HostObjectRef{EngineID: "E1"}), false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.d.validateForExecute()
			if (err == nil) != tc.execOK {
				t.Fatalf("validateForExecute = %v, want ok=%v", err, tc.execOK)
			}
			if err != nil && !errors.Is(err, ErrInvalidDescriptor) {
				t.Fatalf("error %v does not wrap ErrInvalidDescriptor", err)
			}
			if err := tc.d.validateForCreate(); (err == nil) != tc.createO {
				t.Fatalf("validateForCreate = %v, want ok=%v", err, tc.createO)
			}
		})
	}
}

func TestWorkDescriptorCloneIsolates(t *testing.T) {
	d := NewWorkDescriptor("T1", "samples", "Echo", "Run", Arguments{"n": 1}).
		OnObject(HostObjectRef{EngineID: "E1", ObjectID: "O1"})
	c := d.clone()
	d.Arguments["n"] = 2
	d.ObjectRef.ObjectID = "changed"

	if c.Arguments["n"] != 1 || c.ObjectRef.ObjectID != "O1" {
		t.Fatalf("clone shares state: %+v %+v", c.Arguments, c.ObjectRef)
	}
	if !c.HasAffinity() || d.Code.String() != "samples/Echo.Run" {
		t.Fatalf("affinity=%v code=%s", c.HasAffinity(), d.Code)
	}
}

func TestStatusText(t *testing.T) {
	var ts TaskStatus
	if err := ts.UnmarshalText([]byte("finished")); err != nil || ts != Finished {
		t.Fatalf("UnmarshalText(finished) = %s, %v", ts, err)
	}
	if err := ts.UnmarshalText([]byte("later")); err == nil {
		t.Fatalf("unknown task status accepted")
	}
	var es EngineStatus
	if err := es.UnmarshalText([]byte("FAULTED")); err != nil || es != EngineFaulted {
		t.Fatalf("UnmarshalText(FAULTED) = %s, %v", es, err)
	}
	if TaskStatus(42).String() != "TaskStatus(42)" {
		t.Fatalf("out of range string = %s", TaskStatus(42))
	}
	if !Retrieved.Terminal() || Executing.Terminal() {
		t.Fatalf("Terminal misclassifies")
	}
}

func TestTaskErrorUnwrap(t *testing.T) {
	err := newTaskError("T1", PhaseInvoke, ErrNoOperation)
	if !errors.Is(err, ErrNoOperation) {
		t.Fatalf("TaskError does not unwrap")
	}
	if id, ok := TaskIDOf(err); !ok || id != "T1" {
		t.Fatalf("TaskIDOf = %s %v", id, ok)
	}
	if _, ok := TaskIDOf(errors.New("plain")); ok {
		t.Fatalf("TaskIDOf found an id in a plain error")
	}
}
