package grid_go

import (
	"context"
	"fmt"
)

// Operation is one named operation of a capability.
type Operation func(ctx context.Context, args Arguments) error

// Methods is an Invoker backed by a table of named operations.
type Methods map[string]Operation

func (m Methods) Invoke(ctx context.Context, method string, args Arguments) error {
	op, ok := m[method]
	if !ok || op == nil {
		return fmt.Errorf("%w: %q", ErrNoOperation, method)
	}
	return op(ctx, args)
}
