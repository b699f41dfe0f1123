package grid_go

import (
	"context"
	"errors"
	"testing"
)

func TestCapabilitiesRegisterAndResolve(t *testing.T) {
	caps := NewCapabilities()
	hits := 0
	f := func() (Invoker, error) {
		return Methods{"Run": func(context.Context, Arguments) error { hits++; return nil }}, nil
	}

	if err := caps.Register("samples", "Echo", f); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := caps.Register("samples", "Echo", f); err == nil {
		t.Fatalf("duplicate Register succeeded")
	}
	if err := caps.Register(" ", "Echo", f); err == nil {
		t.Fatalf("blank module accepted")
	}
	if err := caps.Register("samples", "Nil", nil); err == nil {
		t.Fatalf("nil factory accepted")
	}
	caps.MustRegister("alpha", "Z", f)

	got, err := caps.Resolve(CodeLocator{Module: "samples", Type: "Echo", Method: "Run"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	inst, _ := got()
	if err := inst.Invoke(context.Background(), "Run", nil); err != nil || hits != 1 {
		t.Fatalf("Invoke = %v, hits = %d", err, hits)
	}

	if _, err := caps.Resolve(CodeLocator{Module: "samples", Type: "Nope"}); !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("Resolve(unknown) = %v", err)
	}

	keys := caps.Keys()
	if len(keys) != 2 || keys[0] != "alpha/Z" || keys[1] != "samples/Echo" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestCapabilitiesFallback(t *testing.T) {
	caps := NewCapabilities()
	var asked CodeLocator
	caps.SetFallback(ResolverFunc(func(l CodeLocator) (Factory, error) {
		asked = l
		return func() (Invoker, error) { return Methods{}, nil }, nil
	}))

	if _, err := caps.Resolve(CodeLocator{Module: "plugins", Type: "Late"}); err != nil {
		t.Fatalf("Resolve via fallback: %v", err)
	}
	if asked.Key() != "plugins/Late" {
		t.Fatalf("fallback asked for %s", asked.Key())
	}
}

func TestMethodsInvoke(t *testing.T) {
	var seen Arguments
	m := Methods{
		"Set": func(_ context.Context, a Arguments) error { seen = a; return nil },
		"Nil": nil,
	}
	if err := m.Invoke(context.Background(), "Set", Arguments{"k": 1}); err != nil {
		t.Fatal(err)
	}
	if seen["k"] != 1 {
		t.Fatalf("arguments not passed: %v", seen)
	}
	for _, name := range []string{"Missing", "Nil"} {
		if err := m.Invoke(context.Background(), name, nil); !errors.Is(err, ErrNoOperation) {
			t.Fatalf("Invoke(%s) = %v", name, err)
		}
	}
}
