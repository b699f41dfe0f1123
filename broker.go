package grid_go

import (
	"context"
	"fmt"
	"sync"

	"github.com/dlsniper/debugger"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// EngineDialer builds a proxy for an engine that registered by id only.
type EngineDialer func(ctx context.Context, engineID string) (Engine, error)

type BrokerOption func(*Broker)

func WithLogger(l logrus.FieldLogger) BrokerOption {
	return func(b *Broker) { b.log = l }
}

func WithClock(c clockwork.Clock) BrokerOption {
	return func(b *Broker) { b.clock = c }
}

func WithMetrics(m *Metrics) BrokerOption {
	return func(b *Broker) { b.metrics = m }
}

// WithEngineDialer enables RegisterEngineID.
func WithEngineDialer(d EngineDialer) BrokerOption {
	return func(b *Broker) { b.dial = d }
}

// Broker accepts work, keeps the engine pool and dispatches queued descriptors to engines.
//
// One mutex guards the registry, the pending queue, the handle table, the engine->handle
// pairings and the notifier's callbacks. Engine calls and completion callbacks always run
// with the mutex released.
type Broker struct {
	mu          sync.Mutex
	registry    *Registry
	queue       []WorkDescriptor
	handles     map[string]*RequestHandle // task id -> handle
	assignments map[string]*RequestHandle // engine id -> in-flight handle
	claims      map[string]struct{}       // engines held by CreateObject
	notifier    *Notifier

	running  bool
	stopped  bool
	halt     chan struct{}
	loopDone chan struct{}

	// queued is raised when the queue becomes non-empty, idle when an engine may have become available.
	queued *SafeChannel[struct{}]
	idle   *broadcast

	dial    EngineDialer
	dialing singleflight.Group

	log     logrus.FieldLogger
	clock   clockwork.Clock
	metrics *Metrics
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		registry:    NewRegistry(),
		handles:     make(map[string]*RequestHandle),
		assignments: make(map[string]*RequestHandle),
		claims:      make(map[string]struct{}),
		halt:        make(chan struct{}),
		queued:      NewSafeChannelGen[struct{}](1),
		idle:        newBroadcast(),
		log:         Log,
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = NewMetrics()
	}
	b.notifier = NewNotifier(b.log)
	return b
}

// Start launches the dispatch loop. Calling Start on a running broker does nothing.
func (b *Broker) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	if b.stopped {
		b.halt = make(chan struct{})
		b.stopped = false
	}
	b.running = true
	b.loopDone = make(chan struct{})
	go b.loop(b.halt, b.loopDone)
	if len(b.queue) > 0 {
		b.queued.Send(struct{}{})
	}
	b.log.Info("task broker started")
}

// Stop halts dispatching and wakes every waiter. Queued descriptors and their handles are
// discarded. Work already handed to an engine is left to finish on its own.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.halt)
	wasRunning := b.running
	b.running = false
	done := b.loopDone

	discarded := len(b.queue)
	for _, d := range b.queue {
		if h, ok := b.handles[d.ID]; ok {
			b.notifier.take(h.Handle)
			delete(b.handles, d.ID)
		}
	}
	b.queue = nil
	b.queued.drain()
	b.observeLocked()
	b.idle.notify()
	b.mu.Unlock()

	if wasRunning {
		<-done
	}
	b.log.WithField("discarded", discarded).Info("task broker stopped")
}

// ExecuteTask queues d and returns its handle at once, with status Queued.
// cb, when not nil, receives TaskComplete once the handle reaches Finished or Faulted.
func (b *Broker) ExecuteTask(d WorkDescriptor, cb CompletionCallback) (RequestHandle, error) {
	if err := d.validateForExecute(); err != nil {
		return RequestHandle{}, err
	}
	d = d.clone()

	b.mu.Lock()
	if _, dup := b.handles[d.ID]; dup {
		b.mu.Unlock()
		return RequestHandle{}, fmt.Errorf("%w: %s", ErrDuplicateTask, d.ID)
	}
	h := newRequestHandle(d.ID)
	b.handles[d.ID] = h
	b.notifier.register(h.Handle, cb)
	b.queue = append(b.queue, d)
	b.metrics.Submitted.Inc()
	b.observeLocked()
	snap := *h
	b.mu.Unlock()

	b.queued.Send(struct{}{})
	b.log.WithFields(logrus.Fields{"task_id": d.ID, "handle": snap.Handle}).Debug("task enqueued")
	return snap, nil
}

// CreateObject blocks until an engine is idle, claims it, and has it create a persistent
// instance of d's capability. The engine is released back to Idle afterwards.
func (b *Broker) CreateObject(ctx context.Context, d WorkDescriptor) (HostObjectRef, error) {
	if err := d.validateForCreate(); err != nil {
		return HostObjectRef{}, err
	}
	for {
		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return HostObjectRef{}, ErrBrokerStopped
		}
		if id, ok := b.registry.firstIdle(b.heldLocked); ok {
			eng, _ := b.registry.Engine(id)
			b.claims[id] = struct{}{}
			b.registry.SetStatus(id, Busy)
			b.observeLocked()
			b.mu.Unlock()

			ref, err := eng.CreateObject(ctx, d)
			b.releaseClaim(id)
			if err != nil {
				b.log.WithFields(logrus.Fields{"task_id": d.ID, "engine_id": id}).WithError(err).Error("create object failed")
				return HostObjectRef{}, err
			}
			if ref.EngineID == "" {
				ref.EngineID = id
			}
			b.log.WithFields(logrus.Fields{"task_id": d.ID, "engine_id": ref.EngineID, "object_id": ref.ObjectID}).Debug("object created")
			return ref, nil
		}
		wake := b.idle.wait()
		halt := b.halt
		b.mu.Unlock()

		select {
		case <-wake:
		case <-halt:
		case <-ctx.Done():
			return HostObjectRef{}, ctx.Err()
		}
	}
}

// releaseClaim drops the CreateObject claim on an engine and puts it back to Idle.
// Nothing is dispatched to a claimed engine, so no assignment can be pending here.
func (b *Broker) releaseClaim(engineID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.claims, engineID)
	if _, busy := b.assignments[engineID]; !busy {
		b.registry.SetStatus(engineID, Idle)
	}
	b.observeLocked()
	b.idle.notify()
}

func (b *Broker) loop(halt <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	debugger.SetLabels(func() []string {
		return []string{"grid", "dispatch-loop"}
	})

	for {
		b.mu.Lock()
		select {
		case <-halt:
			b.mu.Unlock()
			return
		default:
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			select {
			case <-b.queued.GetChannel():
			case <-halt:
				return
			}
			continue
		}

		d := b.queue[0]
		engineID, eng, verdict := b.eligibleLocked(d)
		switch verdict {
		case dispatchNow:
			b.queue = b.queue[1:]
			h := b.assignLocked(d, engineID)
			b.observeLocked()
			b.mu.Unlock()
			if h != nil {
				go b.dispatchToEngine(eng, d, engineID)
			}
		case dispatchFault:
			b.queue = b.queue[1:]
			cb, snap, fire := b.faultLocked(d.ID, fmt.Errorf("%w: %s", ErrUnknownEngine, d.ObjectRef.EngineID))
			b.observeLocked()
			b.mu.Unlock()
			if fire {
				b.notifier.deliver(cb, snap)
			}
		default:
			wake := b.idle.wait()
			b.mu.Unlock()
			select {
			case <-wake:
			case <-halt:
				return
			}
		}
	}
}

// heldLocked reports whether engineID has a dispatched task or is claimed by CreateObject.
// A held engine is never picked, whatever status it reports.
func (b *Broker) heldLocked(engineID string) bool {
	if _, ok := b.assignments[engineID]; ok {
		return true
	}
	_, ok := b.claims[engineID]
	return ok
}

type dispatchVerdict int

const (
	dispatchWait dispatchVerdict = iota
	dispatchNow
	dispatchFault
)

// eligibleLocked picks the engine for the head of the queue.
//
// A descriptor bound to an object goes to the object's engine whatever that engine reports;
// it only waits while the engine still holds another dispatched task or a CreateObject
// claim, so there is never more than one outstanding call per engine. Other descriptors take the first Idle engine in
// registration order.
func (b *Broker) eligibleLocked(d WorkDescriptor) (string, Engine, dispatchVerdict) {
	if d.ObjectRef != nil {
		id := d.ObjectRef.EngineID
		eng, ok := b.registry.Engine(id)
		if !ok {
			return "", nil, dispatchFault
		}
		if b.heldLocked(id) {
			return "", nil, dispatchWait
		}
		return id, eng, dispatchNow
	}
	id, ok := b.registry.firstIdle(b.heldLocked)
	if !ok {
		return "", nil, dispatchWait
	}
	eng, _ := b.registry.Engine(id)
	return id, eng, dispatchNow
}

// assignLocked moves the handle for d to Executing on engineID and marks the engine Busy.
func (b *Broker) assignLocked(d WorkDescriptor, engineID string) *RequestHandle {
	h, ok := b.handles[d.ID]
	if !ok {
		b.log.WithField("task_id", d.ID).Error("no request handle for queued task, dropping it")
		return nil
	}
	h.EngineID = engineID
	h.Status = Executing
	h.SubmitTime = b.clock.Now()
	b.assignments[engineID] = h
	b.registry.SetStatus(engineID, Busy)
	b.metrics.Dispatched.Inc()
	b.log.WithFields(logrus.Fields{"task_id": d.ID, "handle": h.Handle, "engine_id": engineID}).Debug("task dispatched")
	return h
}

// dispatchToEngine hands d to the engine. The outcome arrives later as status updates;
// an error here means the engine never accepted the task.
func (b *Broker) dispatchToEngine(eng Engine, d WorkDescriptor, engineID string) {
	debugger.SetLabels(func() []string {
		return []string{"grid", "dispatch", "engine_id", engineID, "task_id", d.ID}
	})

	err := eng.ExecuteTask(context.Background(), d)
	if err == nil {
		return
	}
	b.log.WithFields(logrus.Fields{"task_id": d.ID, "engine_id": engineID}).WithError(err).Error("engine did not accept task")

	b.mu.Lock()
	h, ok := b.assignments[engineID]
	if !ok || h.TaskID != d.ID {
		b.mu.Unlock()
		return
	}
	delete(b.assignments, engineID)
	b.registry.SetStatus(engineID, EngineFaulted)
	cb, snap, fire := b.faultLocked(d.ID, newTaskError(d.ID, PhaseDispatch, err))
	b.observeLocked()
	b.mu.Unlock()
	if fire {
		b.notifier.deliver(cb, snap)
	}
}

// faultLocked ends the handle for taskID as Faulted and takes its callback.
func (b *Broker) faultLocked(taskID string, cause error) (CompletionCallback, RequestHandle, bool) {
	h, ok := b.handles[taskID]
	if !ok {
		return nil, RequestHandle{}, false
	}
	h.Status = Faulted
	h.Fault = cause.Error()
	h.FinishTime = b.clock.Now()
	b.metrics.Completed.WithLabelValues(Faulted.String()).Inc()
	b.log.WithFields(logrus.Fields{"task_id": taskID, "handle": h.Handle}).WithError(cause).Warn("task faulted")
	cb, fire := b.notifier.take(h.Handle)
	return cb, *h, fire
}

// UpdateEngineStatus records status as reported by an engine. An Idle report completes the
// handle dispatched to that engine, if there is one, and notifies its submitter.
func (b *Broker) UpdateEngineStatus(engineID string, status EngineStatus) {
	fields := logrus.Fields{"engine_id": engineID, "status": status}

	b.mu.Lock()
	if !b.registry.SetStatus(engineID, status) {
		b.mu.Unlock()
		b.log.WithFields(fields).Error("status update from unknown engine ignored")
		return
	}

	var (
		cb   CompletionCallback
		snap RequestHandle
		fire bool
	)
	if status == Idle {
		b.idle.notify()
		if h, ok := b.assignments[engineID]; ok {
			delete(b.assignments, engineID)
			if h.Fault != "" {
				h.Status = Faulted
			} else {
				h.Status = Finished
			}
			h.FinishTime = b.clock.Now()
			b.metrics.Completed.WithLabelValues(h.Status.String()).Inc()
			cb, fire = b.notifier.take(h.Handle)
			snap = *h
			fields["task_id"] = h.TaskID
		}
	}
	b.observeLocked()
	b.mu.Unlock()

	b.log.WithFields(fields).Debug("engine status updated")
	if fire {
		b.notifier.deliver(cb, snap)
	}
}

// ReportTaskFault records that the task running on engineID failed. The handle turns
// Faulted, instead of Finished, when the engine reports Idle.
func (b *Broker) ReportTaskFault(engineID, taskID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.assignments[engineID]
	if !ok || h.TaskID != taskID {
		b.log.WithFields(logrus.Fields{"engine_id": engineID, "task_id": taskID}).Warn("fault report for a task not running on that engine ignored")
		return
	}
	if reason == "" {
		reason = "task failed"
	}
	h.Fault = reason
}

// RegisterEngine adds an engine reachable through e. Re-registering an id is a no-op.
func (b *Broker) RegisterEngine(e Engine) {
	if e == nil {
		b.log.Error("refusing to register a nil engine")
		return
	}
	id := e.ID()
	b.mu.Lock()
	added := b.registry.Register(id, e)
	if added {
		b.observeLocked()
		b.idle.notify()
	}
	b.mu.Unlock()

	if !added {
		b.log.WithField("engine_id", id).Debug("engine already registered")
		return
	}
	b.log.WithField("engine_id", id).Info("engine registered")
}

// RegisterEngineID registers an out-of-process engine by id, building its proxy with the
// configured EngineDialer. Concurrent registrations of one id dial once.
func (b *Broker) RegisterEngineID(ctx context.Context, engineID string) {
	log := b.log.WithField("engine_id", engineID)
	if b.dial == nil {
		log.Error("cannot register engine by id, no engine dialer configured")
		return
	}
	b.mu.Lock()
	known := b.registry.Contains(engineID)
	b.mu.Unlock()
	if known {
		log.Debug("engine already registered")
		return
	}

	_, err, _ := b.dialing.Do(engineID, func() (interface{}, error) {
		eng, err := b.dial(ctx, engineID)
		if err != nil {
			return nil, err
		}
		if eng == nil {
			return nil, fmt.Errorf("%w: dialer returned no engine for %s", ErrUnknownEngine, engineID)
		}
		b.RegisterEngine(eng)
		return eng, nil
	})
	if err != nil {
		log.WithError(err).Error("error registering engine")
	}
}

// UnregisterEngine forgets an engine. A task still running there is not waited for and its
// handle stays Executing.
func (b *Broker) UnregisterEngine(engineID string) {
	b.mu.Lock()
	removed := b.registry.Unregister(engineID)
	if removed {
		// work bound to this engine is faulted on the next scan
		b.idle.notify()
	}
	b.observeLocked()
	b.mu.Unlock()

	if !removed {
		b.log.WithField("engine_id", engineID).Error("error unregistering engine, not registered")
		return
	}
	b.log.WithField("engine_id", engineID).Info("engine unregistered")
}

// GetTaskStatus returns Faulted for an unknown task id.
func (b *Broker) GetTaskStatus(taskID string) TaskStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[taskID]
	if !ok {
		b.log.WithField("task_id", taskID).Debug("status requested for unknown task")
		return Faulted
	}
	return h.Status
}

// GetEngineStatus returns Faulted for an unknown engine id.
func (b *Broker) GetEngineStatus(engineID string) EngineStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.registry.Status(engineID)
	if !ok {
		b.log.WithField("engine_id", engineID).Debug("status requested for unknown engine")
	}
	return s
}

// TaskHandle returns a copy of the handle tracked for taskID.
func (b *Broker) TaskHandle(taskID string) (RequestHandle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[taskID]
	if !ok {
		return RequestHandle{}, false
	}
	return *h, true
}

// CollectTask hands back a terminal handle and stops tracking it.
// A Finished handle is returned as Retrieved.
func (b *Broker) CollectTask(taskID string) (RequestHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[taskID]
	if !ok {
		return RequestHandle{}, fmt.Errorf("%w: unknown task %s", ErrTaskNotCollectable, taskID)
	}
	if h.Status != Finished && h.Status != Faulted {
		return RequestHandle{}, fmt.Errorf("%w: task %s is %s", ErrTaskNotCollectable, taskID, h.Status)
	}
	if h.Status == Finished {
		h.Status = Retrieved
	}
	h.CollectTime = b.clock.Now()
	delete(b.handles, taskID)
	return *h, nil
}

func (b *Broker) TotalEngines() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.Len()
}

func (b *Broker) AvailableEngines() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.CountIdle()
}

// RegisteredEngines lists engine ids in registration order.
func (b *Broker) RegisteredEngines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.IDs()
}

// Pending is the number of descriptors waiting for an engine.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Broker) Metrics() *Metrics {
	return b.metrics
}

func (b *Broker) observeLocked() {
	b.metrics.QueueDepth.Set(float64(len(b.queue)))
	b.metrics.IdleEngines.Set(float64(b.registry.CountIdle()))
	b.metrics.Engines.Set(float64(b.registry.Len()))
}
