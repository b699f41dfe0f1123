package grid_go

import "context"

// Engine is the broker's handle on one engine, in-process or behind a transport proxy.
// ExecuteTask may run the task to completion; the broker never calls it while holding its lock
// and learns about completion only through status updates.
type Engine interface {
	ID() string
	ExecuteTask(ctx context.Context, d WorkDescriptor) error
	CreateObject(ctx context.Context, d WorkDescriptor) (HostObjectRef, error)
}

type engineRecord struct {
	engine Engine
	status EngineStatus
}

// Registry is the broker's bookkeeping of known engines and their reported status.
// It keeps registration order, which is the tie-break when scanning for an idle engine.
//
// Registry does no locking of its own. The Broker guards it with the same mutex that
// guards the queue and the handle table.
type Registry struct {
	order   []string
	records map[string]*engineRecord
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*engineRecord)}
}

// Register inserts id as Idle. It returns false and changes nothing if id is already present.
func (r *Registry) Register(id string, e Engine) bool {
	if _, ok := r.records[id]; ok {
		return false
	}
	r.records[id] = &engineRecord{engine: e, status: Idle}
	r.order = append(r.order, id)
	return true
}

// Unregister drops id. In-flight work on that engine is not waited for.
func (r *Registry) Unregister(id string) bool {
	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) SetStatus(id string, s EngineStatus) bool {
	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.status = s
	return true
}

func (r *Registry) Status(id string) (EngineStatus, bool) {
	rec, ok := r.records[id]
	if !ok {
		return EngineFaulted, false
	}
	return rec.status, true
}

func (r *Registry) Engine(id string) (Engine, bool) {
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return rec.engine, true
}

func (r *Registry) Contains(id string) bool {
	_, ok := r.records[id]
	return ok
}

// IDs returns a snapshot of registered ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

func (r *Registry) Len() int {
	return len(r.order)
}

func (r *Registry) CountIdle() int {
	n := 0
	for _, rec := range r.records {
		if rec.status == Idle {
			n++
		}
	}
	return n
}

// firstIdle returns the earliest registered engine reporting Idle that skip does not reject.
func (r *Registry) firstIdle(skip func(id string) bool) (string, bool) {
	for _, id := range r.order {
		if r.records[id].status == Idle && (skip == nil || !skip(id)) {
			return id, true
		}
	}
	return "", false
}
