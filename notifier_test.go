package grid_go

import (
	"testing"
	"time"
)

func TestNotifierFiresOnce(t *testing.T) {
	n := NewNotifier(nil)
	calls := 0
	n.register("h1", CallbackFunc(func(RequestHandle) { calls++ }))
	n.register("h2", nil)
	if n.pending() != 1 {
		t.Fatalf("pending = %d, nil callbacks are not kept", n.pending())
	}

	cb, ok := n.take("h1")
	if !ok {
		t.Fatalf("take(h1) found nothing")
	}
	n.deliver(cb, RequestHandle{Handle: "h1"})
	if _, ok := n.take("h1"); ok {
		t.Fatalf("callback taken twice")
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestNotifierRecoversPanickingCallback(t *testing.T) {
	n := NewNotifier(nil)
	n.deliver(CallbackFunc(func(RequestHandle) { panic("bad callback") }), RequestHandle{Handle: "h"})
}

func TestChannelCallbackDropsWhenFull(t *testing.T) {
	cb := NewChannelCallback(1)
	cb.TaskComplete(RequestHandle{TaskID: "a"})
	cb.TaskComplete(RequestHandle{TaskID: "b"})

	select {
	case h := <-cb.Completions():
		if h.TaskID != "a" {
			t.Fatalf("got %s, want a", h.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatalf("no completion")
	}
	select {
	case h := <-cb.Completions():
		t.Fatalf("unexpected %s", h.TaskID)
	default:
	}

	if err := cb.Close(); err != nil {
		t.Fatal(err)
	}
	cb.TaskComplete(RequestHandle{TaskID: "c"})
	if err := cb.Close(); err == nil {
		t.Fatalf("second Close succeeded")
	}
}

func TestBroadcastWakesAllWaiters(t *testing.T) {
	b := newBroadcast()
	w1, w2 := b.wait(), b.wait()
	b.notify()
	for _, w := range []<-chan struct{}{w1, w2} {
		select {
		case <-w:
		case <-time.After(time.Second):
			t.Fatalf("waiter not woken")
		}
	}
	select {
	case <-b.wait():
		t.Fatalf("fresh wait channel already closed")
	default:
	}
}
