package grid_go

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/seoyhaein/utils"
)

// Factory instantiates a fresh instance of a capability.
type Factory func() (Invoker, error)

// Resolver turns a code locator into a factory. It replaces loading a type by name.
type Resolver interface {
	Resolve(l CodeLocator) (Factory, error)
}

// ResolverFunc adapts a func to Resolver.
type ResolverFunc func(l CodeLocator) (Factory, error)

func (f ResolverFunc) Resolve(l CodeLocator) (Factory, error) { return f(l) }

type resolverSlot struct{ r Resolver }

// Capabilities is the engine's table of known module/type factories.
// Lookup order: registered factory, then the fallback resolver, if any.
type Capabilities struct {
	mu        sync.RWMutex
	factories map[string]Factory

	fallback atomic.Value // *resolverSlot
}

func NewCapabilities() *Capabilities {
	return &Capabilities{factories: make(map[string]Factory)}
}

// Register adds a factory for module/type. Registering the same key twice is an error.
func (c *Capabilities) Register(module, typeName string, f Factory) error {
	if utils.IsEmptyString(module) || utils.IsEmptyString(typeName) {
		return fmt.Errorf("capability needs a module and a type")
	}
	if f == nil {
		return fmt.Errorf("capability %s/%s: nil factory", module, typeName)
	}
	key := CodeLocator{Module: module, Type: typeName}.Key()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.factories[key]; ok {
		return fmt.Errorf("capability %s is already registered", key)
	}
	c.factories[key] = f
	return nil
}

func (c *Capabilities) MustRegister(module, typeName string, f Factory) {
	if err := c.Register(module, typeName, f); err != nil {
		panic(err)
	}
}

// SetFallback installs a resolver consulted for keys with no registered factory.
func (c *Capabilities) SetFallback(r Resolver) {
	c.fallback.Store(&resolverSlot{r: r})
}

func (c *Capabilities) fallbackResolver() Resolver {
	v := c.fallback.Load()
	if v == nil {
		return nil
	}
	return v.(*resolverSlot).r
}

func (c *Capabilities) Resolve(l CodeLocator) (Factory, error) {
	c.mu.RLock()
	f, ok := c.factories[l.Key()]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}
	if r := c.fallbackResolver(); r != nil {
		return r.Resolve(l)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, l.Key())
}

// Keys lists registered module/type keys, sorted.
func (c *Capabilities) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.factories))
	for k := range c.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
