package grid_go

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/seoyhaein/grid-go/debugonly"
	"github.com/sirupsen/logrus"
)

// StatusReporter is the broker as seen from an engine.
type StatusReporter interface {
	UpdateEngineStatus(engineID string, status EngineStatus)
	ReportTaskFault(engineID, taskID, reason string)
}

type EngineOption func(*GridEngine)

// WithEngineID overrides the generated Engine_<host>_<uuid> id.
func WithEngineID(id string) EngineOption {
	return func(e *GridEngine) { e.id = id }
}

func WithEngineLogger(l logrus.FieldLogger) EngineOption {
	return func(e *GridEngine) { e.log = l }
}

func WithReporter(r StatusReporter) EngineOption {
	return func(e *GridEngine) { e.reporter = r }
}

// GridEngine executes descriptors and hosts persistent objects. It runs one task at a time;
// the broker never hands it a second one before it reports Idle.
type GridEngine struct {
	id   string
	caps Resolver
	log  logrus.FieldLogger

	mu       sync.Mutex
	reporter StatusReporter
	status   EngineStatus
	objects  map[string]Invoker
	current  *WorkDescriptor
	closed   bool
}

func NewGridEngine(caps Resolver, opts ...EngineOption) *GridEngine {
	e := &GridEngine{
		caps:    caps,
		log:     Log,
		status:  Idle,
		objects: make(map[string]Invoker),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.id == "" {
		e.id = NewEngineID()
	}
	e.log = e.log.WithField("engine_id", e.id)
	return e
}

func (e *GridEngine) ID() string { return e.id }

func (e *GridEngine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetStatus changes the locally held status without telling the broker.
func (e *GridEngine) SetStatus(s EngineStatus) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// SetReporter attaches the engine to a broker.
func (e *GridEngine) SetReporter(r StatusReporter) {
	e.mu.Lock()
	e.reporter = r
	e.mu.Unlock()
}

// Closed reports whether Close has been called.
func (e *GridEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// CurrentTask returns the descriptor being executed, if any.
func (e *GridEngine) CurrentTask() (WorkDescriptor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return WorkDescriptor{}, false
	}
	return *e.current, true
}

// ExecuteTask runs d to completion. It reports Busy first and always reports Idle last.
// Failures are logged and reported with ReportTaskFault; they are not returned. The only
// error returned is ErrEngineClosed, in which case nothing was reported.
func (e *GridEngine) ExecuteTask(ctx context.Context, d WorkDescriptor) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.current = &d
	e.mu.Unlock()

	e.report(Busy)
	defer func() {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
		e.report(Idle)
	}()

	if err := e.run(ctx, d); err != nil {
		e.log.WithFields(logrus.Fields{
			"task_id": d.ID,
			"code":    d.Code.String(),
		}).WithError(err).Error("error executing task")
		e.reportFault(d.ID, err)
	}
	return nil
}

func (e *GridEngine) run(ctx context.Context, d WorkDescriptor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if debugonly.Enabled() {
				debugonly.BreakHere()
			}
			err = newTaskError(d.ID, PhaseInvoke, fmt.Errorf("panic: %v", r))
		}
	}()

	var (
		target     Invoker
		persistent bool
	)
	if d.ObjectRef != nil {
		target, err = e.lookupObject(d)
		if err != nil {
			return err
		}
		persistent = true
	} else {
		target, err = e.instantiate(d)
		if err != nil {
			return err
		}
		e.log.WithFields(logrus.Fields{"task_id": d.ID, "code": d.Code.Key()}).Debug("created non-persistent object")
	}

	if !persistent {
		defer func() {
			if c, ok := target.(io.Closer); ok {
				if cerr := c.Close(); cerr != nil {
					e.log.WithField("task_id", d.ID).WithError(newTaskError(d.ID, PhaseRelease, cerr)).Warn("error releasing transient object")
				}
			}
		}()
	}

	if ierr := target.Invoke(ctx, d.Code.Method, d.Arguments); ierr != nil {
		return newTaskError(d.ID, PhaseInvoke, ierr)
	}
	return nil
}

func (e *GridEngine) lookupObject(d WorkDescriptor) (Invoker, error) {
	ref := d.ObjectRef
	if ref.EngineID != e.id {
		return nil, newTaskError(d.ID, PhaseResolve, fmt.Errorf("%w: %s lives on another engine", ErrUnknownObject, ref))
	}
	e.mu.Lock()
	obj, ok := e.objects[ref.ObjectID]
	e.mu.Unlock()
	if !ok {
		return nil, newTaskError(d.ID, PhaseResolve, fmt.Errorf("%w: %s", ErrUnknownObject, ref.ObjectID))
	}
	return obj, nil
}

func (e *GridEngine) instantiate(d WorkDescriptor) (Invoker, error) {
	if e.caps == nil {
		return nil, newTaskError(d.ID, PhaseResolve, fmt.Errorf("%w: %s", ErrUnknownCapability, d.Code.Key()))
	}
	factory, err := e.caps.Resolve(d.Code)
	if err != nil {
		return nil, newTaskError(d.ID, PhaseResolve, err)
	}
	if factory == nil {
		return nil, newTaskError(d.ID, PhaseResolve, fmt.Errorf("%w: %s", ErrUnknownCapability, d.Code.Key()))
	}
	inst, err := factory()
	if err != nil {
		return nil, newTaskError(d.ID, PhaseInstantiate, err)
	}
	if inst == nil {
		return nil, newTaskError(d.ID, PhaseInstantiate, fmt.Errorf("factory for %s returned nil", d.Code.Key()))
	}
	return inst, nil
}

// CreateObject instantiates d's capability and keeps it until the engine is closed or the
// object is released.
func (e *GridEngine) CreateObject(_ context.Context, d WorkDescriptor) (HostObjectRef, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return HostObjectRef{}, ErrEngineClosed
	}

	inst, err := e.instantiate(d)
	if err != nil {
		e.log.WithFields(logrus.Fields{"task_id": d.ID, "code": d.Code.Key()}).WithError(err).Error("error creating object")
		return HostObjectRef{}, err
	}

	objectID := newObjectID(e.id)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		release(inst)
		return HostObjectRef{}, ErrEngineClosed
	}
	e.objects[objectID] = inst
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"code": d.Code.Key(), "object_id": objectID}).Debug("created persistent object")
	return HostObjectRef{EngineID: e.id, ObjectID: objectID}, nil
}

// ReleaseObject drops one persistent object, closing it if it is an io.Closer.
func (e *GridEngine) ReleaseObject(objectID string) error {
	e.mu.Lock()
	obj, ok := e.objects[objectID]
	delete(e.objects, objectID)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, objectID)
	}
	return release(obj)
}

// Objects lists the ids of the persistent objects hosted here.
func (e *GridEngine) Objects() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.objects))
	for id := range e.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close releases every persistent object. Later calls to ExecuteTask or CreateObject fail.
func (e *GridEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	objs := e.objects
	e.objects = make(map[string]Invoker)
	e.mu.Unlock()

	var errs []error
	for id, obj := range objs {
		if err := release(obj); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func release(obj Invoker) error {
	if c, ok := obj.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (e *GridEngine) report(s EngineStatus) {
	e.mu.Lock()
	e.status = s
	r := e.reporter
	e.mu.Unlock()
	if r != nil {
		r.UpdateEngineStatus(e.id, s)
	}
}

func (e *GridEngine) reportFault(taskID string, err error) {
	e.mu.Lock()
	r := e.reporter
	e.mu.Unlock()
	if r != nil {
		r.ReportTaskFault(e.id, taskID, err.Error())
	}
}
