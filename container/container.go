package container

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"

	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

var errorType = reflect.TypeFor[error]()

// Factory builds a service instance, using r to resolve its dependencies.
// r is the scope the resolution started from, or the container itself for singletons.
type Factory func(r Resolver) (any, error)

// Resolver is implemented by *Container and *Scope.
type Resolver interface {
	// Name is the owning container's name (the branch name for isolated containers).
	Name() string
	// Has reports whether t can be resolved without a not-registered error.
	Has(t reflect.Type) bool
	// ResolveType returns an instance of t honoring its lifetime.
	ResolveType(t reflect.Type) (any, error)
}

// serviceDef holds one registration: how to build it and, for singletons, the cached instance.
type serviceDef struct {
	svcType    reflect.Type
	lifetime   Lifetime
	ctor       reflect.Value
	paramTypes []reflect.Type
	returnsErr bool
	factory    Factory
	forward    *Container // non-nil for bindings that delegate to a root container
	isInstance bool

	build    sync.Mutex // held while the singleton is constructed
	mu       sync.Mutex
	instance reflect.Value
}

// Container is a registry of services keyed by type.
//
// Registration is only accepted until Seal is called. Once sealed the registration map is
// immutable and resolutions read it without locking.
type Container struct {
	name   string
	mu     sync.RWMutex
	defs   map[reflect.Type]*serviceDef
	sealed atomic.Bool

	builtMu sync.Mutex
	built   []reflect.Value
	closed  bool
}

// New creates an empty container. name identifies it in errors and logs.
func New(name string) *Container {
	return &Container{
		name: name,
		defs: make(map[reflect.Type]*serviceDef),
	}
}

// Name returns the container name.
func (c *Container) Name() string { return c.name }

// Register registers a constructor under its return type.
// The constructor may return (T) or (T, error); its parameters are resolved from the container.
func (c *Container) Register(ctor any, lt Lifetime) error {
	return c.RegisterAs(ctor, nil, lt)
}

// RegisterAs registers a constructor under an interface type given as a nil pointer, e.g. (*Greeter)(nil).
func (c *Container) RegisterAs(ctor any, iface any, lt Lifetime) error {
	def, err := ctorDef(ctor, iface, lt)
	if err != nil {
		return err
	}

	return c.add(def)
}

// RegisterInstance registers an already built value as a singleton under its own type.
// The container does not close instances it did not build.
func (c *Container) RegisterInstance(instance any) error {
	return c.RegisterInstanceAs(instance, nil)
}

// RegisterInstanceAs registers an already built value as a singleton under an interface type.
func (c *Container) RegisterInstanceAs(instance any, iface any) error {
	if instance == nil {
		return fmt.Errorf("register instance: %w: nil instance", berr.ErrInvalidConstructor)
	}

	v := reflect.ValueOf(instance)

	svc, err := serviceType(v.Type(), iface)
	if err != nil {
		return err
	}

	return c.add(&serviceDef{svcType: svc, lifetime: Singleton, instance: v, isInstance: true})
}

// RegisterFactory registers a factory function for t.
func (c *Container) RegisterFactory(t reflect.Type, lt Lifetime, f Factory) error {
	if t == nil || f == nil {
		return fmt.Errorf("register factory: %w: nil type or factory", berr.ErrInvalidConstructor)
	}

	return c.add(&serviceDef{svcType: t, lifetime: lt, factory: f})
}

func (c *Container) add(def *serviceDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed.Load() {
		return fmt.Errorf("register %s in %q: %w", def.svcType, c.name, berr.ErrContainerSealed)
	}

	if _, exists := c.defs[def.svcType]; exists {
		return fmt.Errorf("register %s in %q: %w", def.svcType, c.name, berr.ErrRegisterDuplicate)
	}

	c.defs[def.svcType] = def

	return nil
}

// Seal finalizes the container. Further registrations fail with ErrContainerSealed.
func (c *Container) Seal() {
	c.mu.Lock()
	c.sealed.Store(true)
	c.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (c *Container) Sealed() bool { return c.sealed.Load() }

func (c *Container) lookup(t reflect.Type) (*serviceDef, bool) {
	if c.sealed.Load() {
		def, ok := c.defs[t]
		return def, ok
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.defs[t]

	return def, ok
}

// Has reports whether t is registered.
func (c *Container) Has(t reflect.Type) bool {
	_, ok := c.lookup(t)
	return ok
}

// Lifetime returns the registered lifetime of t.
func (c *Container) Lifetime(t reflect.Type) (Lifetime, bool) {
	def, ok := c.lookup(t)
	if !ok {
		return 0, false
	}

	return def.lifetime, true
}

// ResolveType resolves t from the container. Scoped services cannot be resolved here.
func (c *Container) ResolveType(t reflect.Type) (any, error) {
	v, err := resolve(c, nil, t, make(map[reflect.Type]bool))
	if err != nil {
		return nil, err
	}

	return v.Interface(), nil
}

// Resolve fills out, which must be a non-nil pointer to the wanted service type.
func (c *Container) Resolve(out any) error { return resolveInto(c, nil, out) }

// NewScope opens a resolution scope over the container.
func (c *Container) NewScope() *Scope {
	return &Scope{
		c:      c,
		values: make(map[reflect.Type]reflect.Value),
	}
}

func (c *Container) recordBuilt(v reflect.Value) {
	c.builtMu.Lock()
	c.built = append(c.built, v)
	c.builtMu.Unlock()
}

// Close closes every singleton the container built that implements io.Closer, newest first.
// Registered instances are owned by the caller and left alone. Close is idempotent.
func (c *Container) Close() error {
	c.builtMu.Lock()
	if c.closed {
		c.builtMu.Unlock()
		return nil
	}

	c.closed = true
	built := c.built
	c.built = nil
	c.builtMu.Unlock()

	return closeAll(built)
}

func closeAll(vals []reflect.Value) error {
	var errs []error

	for i := len(vals) - 1; i >= 0; i-- {
		if cl, ok := vals[i].Interface().(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func ctorDef(ctor any, iface any, lt Lifetime) (*serviceDef, error) {
	v := reflect.ValueOf(ctor)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("register: %w: %T is not a function", berr.ErrInvalidConstructor, ctor)
	}

	ct := v.Type()
	if ct.IsVariadic() {
		return nil, fmt.Errorf("register %s: %w: variadic constructor", ct, berr.ErrInvalidConstructor)
	}

	returnsErr := false

	switch ct.NumOut() {
	case 1:
	case 2:
		if ct.Out(1) != errorType {
			return nil, fmt.Errorf("register %s: %w: second result must be error", ct, berr.ErrInvalidConstructor)
		}

		returnsErr = true
	default:
		return nil, fmt.Errorf("register %s: %w: want (T) or (T, error)", ct, berr.ErrInvalidConstructor)
	}

	svc, err := serviceType(ct.Out(0), iface)
	if err != nil {
		return nil, err
	}

	params := make([]reflect.Type, ct.NumIn())
	for i := range params {
		params[i] = ct.In(i)
	}

	return &serviceDef{
		svcType:    svc,
		lifetime:   lt,
		ctor:       v,
		paramTypes: params,
		returnsErr: returnsErr,
	}, nil
}

func serviceType(impl reflect.Type, iface any) (reflect.Type, error) {
	if iface == nil {
		return impl, nil
	}

	it := reflect.TypeOf(iface)
	if it.Kind() != reflect.Ptr || it.Elem().Kind() != reflect.Interface {
		return nil, fmt.Errorf("register %s: %w: want a nil pointer to an interface", impl, berr.ErrInvalidInterfaceType)
	}

	if !impl.Implements(it.Elem()) {
		return nil, fmt.Errorf("register %s: %w: does not implement %s", impl, berr.ErrInvalidInterfaceType, it.Elem())
	}

	return it.Elem(), nil
}
