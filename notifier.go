package grid_go

import (
	"github.com/sirupsen/logrus"
)

// CompletionCallback receives the one-way TaskComplete notification for a handle.
type CompletionCallback interface {
	TaskComplete(h RequestHandle)
}

// CallbackFunc adapts a plain func to CompletionCallback.
type CallbackFunc func(h RequestHandle)

func (f CallbackFunc) TaskComplete(h RequestHandle) { f(h) }

// ChannelCallback delivers completions onto a buffered channel.
// A completion that does not fit in the buffer is dropped and logged.
type ChannelCallback struct {
	sc  *SafeChannel[RequestHandle]
	log logrus.FieldLogger
}

func NewChannelCallback(buffer int) *ChannelCallback {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelCallback{sc: NewSafeChannelGen[RequestHandle](buffer), log: Log}
}

func (c *ChannelCallback) TaskComplete(h RequestHandle) {
	if !c.sc.Send(h) {
		c.log.WithFields(logrus.Fields{"handle": h.Handle, "task_id": h.TaskID}).
			Warn("completion dropped, channel full or closed")
	}
}

func (c *ChannelCallback) Completions() <-chan RequestHandle {
	return c.sc.GetChannel()
}

func (c *ChannelCallback) Close() error {
	return c.sc.Close()
}

// Notifier keeps the completion callback registered for each handle until it fires.
// It is not safe for concurrent use on its own; the Broker calls register and take under
// its lock and deliver after releasing it, so a callback may call back into the broker.
type Notifier struct {
	callbacks map[string]CompletionCallback
	log       logrus.FieldLogger
}

func NewNotifier(log logrus.FieldLogger) *Notifier {
	if log == nil {
		log = Log
	}
	return &Notifier{
		callbacks: make(map[string]CompletionCallback),
		log:       log,
	}
}

func (n *Notifier) register(handle string, cb CompletionCallback) {
	if cb == nil {
		return
	}
	n.callbacks[handle] = cb
}

// take removes and returns the callback for handle. Every callback fires at most once.
func (n *Notifier) take(handle string) (CompletionCallback, bool) {
	cb, ok := n.callbacks[handle]
	if ok {
		delete(n.callbacks, handle)
	}
	return cb, ok
}

func (n *Notifier) pending() int {
	return len(n.callbacks)
}

// deliver invokes cb. A panicking callback is logged and does not reach the caller.
func (n *Notifier) deliver(cb CompletionCallback, h RequestHandle) {
	defer func() {
		if r := recover(); r != nil {
			n.log.WithFields(logrus.Fields{"handle": h.Handle, "task_id": h.TaskID}).
				Errorf("completion callback panicked: %v", r)
		}
	}()
	cb.TaskComplete(h)
}
