package grid_go

import "context"

// Invoker is an instance the engine can run named operations on.
// Instances that also implement io.Closer are released when the engine is done with them.
type Invoker interface {
	Invoke(ctx context.Context, method string, args Arguments) error
}
