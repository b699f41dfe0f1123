package grid_go

import (
	"fmt"
	"strings"

	"github.com/seoyhaein/utils"
)

// Arguments are the named inputs handed to the invoked operation.
type Arguments map[string]any

// CodeLocator names the operation to run: Module and Type select a registered capability, Method the operation on it.
type CodeLocator struct {
	Module string `json:"module"`
	Type   string `json:"type"`
	Method string `json:"method,omitempty"`
}

// Key is the capability key, "module/type".
func (l CodeLocator) Key() string {
	return l.Module + "/" + l.Type
}

func (l CodeLocator) String() string {
	if l.Method == "" {
		return l.Key()
	}
	return l.Key() + "." + l.Method
}

// HostObjectRef addresses a persistent object living on one engine.
type HostObjectRef struct {
	EngineID string `json:"engine_id"`
	ObjectID string `json:"object_id"`
}

func (r HostObjectRef) String() string {
	return fmt.Sprintf("%s@%s", r.ObjectID, r.EngineID)
}

// WorkDescriptor is one unit of submitted work. It is treated as immutable once submitted.
type WorkDescriptor struct {
	ID        string         `json:"id"`
	Code      CodeLocator    `json:"code"`
	Arguments Arguments      `json:"arguments,omitempty"`
	ObjectRef *HostObjectRef `json:"object_ref,omitempty"`
}

// NewWorkDescriptor builds a descriptor for a transient instance of module/type.
func NewWorkDescriptor(id, module, typeName, method string, args Arguments) WorkDescriptor {
	if args == nil {
		args = make(Arguments, 4)
	}
	return WorkDescriptor{
		ID:        id,
		Code:      CodeLocator{Module: module, Type: typeName, Method: method},
		Arguments: args,
	}
}

// OnObject returns a copy of d bound to ref, so it is routed to ref's engine.
func (d WorkDescriptor) OnObject(ref HostObjectRef) WorkDescriptor {
	r := ref
	d.ObjectRef = &r
	return d
}

// HasAffinity reports whether d must run on a specific engine.
func (d WorkDescriptor) HasAffinity() bool {
	return d.ObjectRef != nil
}

// validateForExecute checks what the broker needs before queueing d.
func (d WorkDescriptor) validateForExecute() error {
	if utils.IsEmptyString(d.ID) {
		return fmt.Errorf("%w: empty task id", ErrInvalidDescriptor)
	}
	if utils.IsEmptyString(d.Code.Method) {
		return fmt.Errorf("%w: task %s names no method", ErrInvalidDescriptor, d.ID)
	}
	if d.ObjectRef != nil {
		if utils.IsEmptyString(d.ObjectRef.EngineID) || utils.IsEmptyString(d.ObjectRef.ObjectID) {
			return fmt.Errorf("%w: task %s has an incomplete object reference", ErrInvalidDescriptor, d.ID)
		}
		return nil
	}
	return d.Code.validate(d.ID)
}

// validateForCreate checks a descriptor used to create a persistent object.
func (d WorkDescriptor) validateForCreate() error {
	if d.ObjectRef != nil {
		return fmt.Errorf("%w: task %s already refers to object %s", ErrInvalidDescriptor, d.ID, d.ObjectRef)
	}
	return d.Code.validate(d.ID)
}

func (l CodeLocator) validate(taskID string) error {
	if utils.IsEmptyString(l.Module) || utils.IsEmptyString(l.Type) {
		return fmt.Errorf("%w: task %s has no module/type", ErrInvalidDescriptor, taskID)
	}
	if strings.Contains(l.Module, "/") {
		return fmt.Errorf("%w: module %q must not contain '/'", ErrInvalidDescriptor, l.Module)
	}
	return nil
}

// clone copies the argument map and object reference so later changes by the submitter are not seen.
func (d WorkDescriptor) clone() WorkDescriptor {
	if d.Arguments != nil {
		args := make(Arguments, len(d.Arguments))
		for k, v := range d.Arguments {
			args[k] = v
		}
		d.Arguments = args
	}
	if d.ObjectRef != nil {
		r := *d.ObjectRef
		d.ObjectRef = &r
	}
	return d
}
