package container

import (
	"fmt"
	"reflect"

	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// resolve is the single resolution path for containers (s == nil) and scopes.
// track holds the types currently being built and detects cycles.
func resolve(c *Container, s *Scope, t reflect.Type, track map[reflect.Type]bool) (reflect.Value, error) {
	if s != nil {
		if v, ok := s.local(t); ok {
			return v, nil
		}
	}

	def, ok := c.lookup(t)
	if !ok {
		return reflect.Value{}, fmt.Errorf("resolve %s in %q: %w", t, c.name, berr.ErrServiceNotRegistered)
	}

	if track[t] {
		return reflect.Value{}, fmt.Errorf("resolve %s in %q: %w", t, c.name, berr.ErrCircularDependency)
	}

	track[t] = true
	defer delete(track, t)

	if def.forward != nil {
		return resolveForward(c, s, def)
	}

	if def.isInstance {
		return def.instance, nil
	}

	switch def.lifetime {
	case Singleton:
		return c.singleton(def, track)
	case Scoped:
		if s == nil {
			return reflect.Value{}, fmt.Errorf("resolve %s in %q: %w", t, c.name, berr.ErrScopedOnRoot)
		}

		return s.scoped(def, track)
	default:
		v, err := construct(c, s, def, track)
		if err != nil {
			return reflect.Value{}, err
		}

		if s != nil {
			s.own(v)
		}

		return v, nil
	}
}

// singleton builds def exactly once per container. Concurrent first resolutions wait on
// def.build; a dependency cycle is reported by track before the lock is taken again.
func (c *Container) singleton(def *serviceDef, track map[reflect.Type]bool) (reflect.Value, error) {
	if v := def.built(); v.IsValid() {
		return v, nil
	}

	def.build.Lock()
	defer def.build.Unlock()

	if v := def.built(); v.IsValid() {
		return v, nil
	}

	// Singleton dependencies never come from a scope.
	v, err := construct(c, nil, def, track)
	if err != nil {
		return reflect.Value{}, err
	}

	def.mu.Lock()
	def.instance = v
	def.mu.Unlock()

	c.recordBuilt(v)

	return v, nil
}

func (d *serviceDef) built() reflect.Value {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.instance
}

func construct(c *Container, s *Scope, def *serviceDef, track map[reflect.Type]bool) (reflect.Value, error) {
	if def.factory != nil {
		var r Resolver = c
		if s != nil {
			r = s
		}

		out, err := def.factory(r)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("build %s in %q: %w", def.svcType, c.name, err)
		}

		if out == nil {
			return reflect.Value{}, fmt.Errorf("build %s in %q: %w: factory returned nil", def.svcType, c.name, berr.ErrTypeMismatch)
		}

		v := reflect.ValueOf(out)
		if !v.Type().AssignableTo(def.svcType) {
			return reflect.Value{}, fmt.Errorf("build %s in %q: %w: got %s", def.svcType, c.name, berr.ErrTypeMismatch, v.Type())
		}

		return v, nil
	}

	args := make([]reflect.Value, len(def.paramTypes))

	for i, p := range def.paramTypes {
		a, err := resolve(c, s, p, track)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("resolve dependency %s of %s: %w", p, def.svcType, err)
		}

		args[i] = a
	}

	out := def.ctor.Call(args)
	if def.returnsErr && !out[1].IsNil() {
		err, _ := out[1].Interface().(error)
		return reflect.Value{}, fmt.Errorf("build %s in %q: %w", def.svcType, c.name, err)
	}

	return out[0], nil
}

func resolveInto(c *Container, s *Scope, out any) error {
	ov := reflect.ValueOf(out)
	if ov.Kind() != reflect.Ptr || ov.IsNil() {
		return fmt.Errorf("resolve: %w: out must be a non-nil pointer, got %T", berr.ErrTypeMismatch, out)
	}

	if s != nil {
		if err := s.open(); err != nil {
			return err
		}
	}

	v, err := resolve(c, s, ov.Elem().Type(), make(map[reflect.Type]bool))
	if err != nil {
		return err
	}

	ov.Elem().Set(v)

	return nil
}
