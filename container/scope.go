package container

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Scope is a short-lived resolution context over a container: one per request or dispatch.
// Scoped services are unique within a scope and isolated between scopes. Instances the scope
// builds (scoped and transient) are closed by Close when they implement io.Closer.
//
// A Scope is safe for concurrent use, but is normally owned by a single in-flight call.
type Scope struct {
	c *Container

	mu       sync.Mutex
	values   map[reflect.Type]reflect.Value
	provided map[reflect.Type]reflect.Value
	owned    []reflect.Value
	linked   map[*Container]*Scope
	building map[reflect.Type]*sync.Mutex
	closed   bool
}

// Name returns the owning container name.
func (s *Scope) Name() string { return s.c.name }

// Container returns the container the scope was opened on.
func (s *Scope) Container() *Container { return s.c }

// Has reports whether t is provided locally or registered in the container.
func (s *Scope) Has(t reflect.Type) bool {
	if _, ok := s.local(t); ok {
		return true
	}

	return s.c.Has(t)
}

// ResolveType resolves t honoring its lifetime within this scope.
func (s *Scope) ResolveType(t reflect.Type) (any, error) {
	if err := s.open(); err != nil {
		return nil, err
	}

	v, err := resolve(s.c, s, t, make(map[reflect.Type]bool))
	if err != nil {
		return nil, err
	}

	return v.Interface(), nil
}

// Resolve fills out, which must be a non-nil pointer to the wanted service type.
func (s *Scope) Resolve(out any) error { return resolveInto(s.c, s, out) }

// Provide adds a request-local instance for t. It shadows any container registration of t
// for resolutions through this scope only. The scope does not close provided values.
func (s *Scope) Provide(t reflect.Type, v any) error {
	if v == nil {
		return fmt.Errorf("provide %s: %w: nil value", t, berr.ErrTypeMismatch)
	}

	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(t) {
		return fmt.Errorf("provide %s: %w: got %s", t, berr.ErrTypeMismatch, rv.Type())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("provide %s in %q: %w", t, s.c.name, berr.ErrScopeClosed)
	}

	if s.provided == nil {
		s.provided = make(map[reflect.Type]reflect.Value)
	}

	s.provided[t] = rv

	return nil
}

// Close releases the scope: owned instances are closed newest first, then any linked
// scopes opened on root containers. Close is idempotent; later resolutions fail.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	owned := s.owned
	linked := s.linked
	s.owned, s.linked, s.values, s.provided = nil, nil, nil, nil
	s.mu.Unlock()

	errs := []error{closeAll(owned)}
	for _, ls := range linked {
		errs = append(errs, ls.Close())
	}

	return errors.Join(errs...)
}

func (s *Scope) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("scope in %q: %w", s.c.name, berr.ErrScopeClosed)
	}

	return nil
}

func (s *Scope) local(t reflect.Type) (reflect.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.provided[t]

	return v, ok
}

func (s *Scope) scoped(def *serviceDef, track map[reflect.Type]bool) (reflect.Value, error) {
	v, build, err := s.cached(def)
	if err != nil || v.IsValid() {
		return v, err
	}

	build.Lock()
	defer build.Unlock()

	if v, _, err = s.cached(def); err != nil || v.IsValid() {
		return v, err
	}

	v, err = construct(s.c, s, def, track)
	if err != nil {
		return reflect.Value{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reflect.Value{}, errors.Join(
			fmt.Errorf("resolve %s in %q: %w", def.svcType, s.c.name, berr.ErrScopeClosed),
			closeAll([]reflect.Value{v}),
		)
	}

	s.values[def.svcType] = v
	s.owned = append(s.owned, v)

	return v, nil
}

// cached returns the scoped instance of def if already built, or the lock that serializes
// its construction within this scope.
func (s *Scope) cached(def *serviceDef) (reflect.Value, *sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reflect.Value{}, nil, fmt.Errorf("resolve %s in %q: %w", def.svcType, s.c.name, berr.ErrScopeClosed)
	}

	if v, ok := s.values[def.svcType]; ok {
		return v, nil, nil
	}

	if s.building == nil {
		s.building = make(map[reflect.Type]*sync.Mutex)
	}

	m, ok := s.building[def.svcType]
	if !ok {
		m = &sync.Mutex{}
		s.building[def.svcType] = m
	}

	return reflect.Value{}, m, nil
}

func (s *Scope) own(v reflect.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.owned = append(s.owned, v)
	}
}

// linkedScope returns the scope opened on root for this scope, creating it on first use.
// Forwarded scoped and transient services are built there and released with this scope.
func (s *Scope) linkedScope(root *Container) (*Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("scope in %q: %w", s.c.name, berr.ErrScopeClosed)
	}

	if ls, ok := s.linked[root]; ok {
		return ls, nil
	}

	if s.linked == nil {
		s.linked = make(map[*Container]*Scope)
	}

	ls := root.NewScope()
	s.linked[root] = ls

	return ls, nil
}
