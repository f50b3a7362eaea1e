package container

import (
	"fmt"
	"reflect"

	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Forward registers t in c as a binding that delegates every resolution to root.
// Lifetime semantics stay root's: a root singleton resolves to the same instance from every
// forwarding container, a root transient is built on each resolution. Root scoped services are
// built in a root scope linked to the caller's scope and released with it.
//
// lt records the declared lifetime for introspection only. If root has no registration for t,
// resolution fails with ErrUnregisteredSharedType naming t and c.
func (c *Container) Forward(t reflect.Type, root *Container, lt Lifetime) error {
	if t == nil || root == nil {
		return fmt.Errorf("forward: %w: nil type or root", berr.ErrInvalidConstructor)
	}

	if root == c {
		return fmt.Errorf("forward %s in %q: %w: container forwards to itself", t, c.name, berr.ErrInvalidConstructor)
	}

	return c.add(&serviceDef{svcType: t, lifetime: lt, forward: root})
}

// Forwarded reports whether t is registered in c as a forwarding binding.
func (c *Container) Forwarded(t reflect.Type) bool {
	def, ok := c.lookup(t)
	return ok && def.forward != nil
}

func resolveForward(c *Container, s *Scope, def *serviceDef) (reflect.Value, error) {
	root := def.forward
	t := def.svcType

	lt, ok := root.Lifetime(t)
	if !ok {
		return reflect.Value{}, berr.Op("forward "+t.String(), c.name, berr.ErrUnregisteredSharedType)
	}

	// Root resolution gets its own cycle tracking: it is a different registry.
	track := make(map[reflect.Type]bool)

	if s == nil {
		if lt == Scoped {
			return reflect.Value{}, fmt.Errorf("forward %s in %q: %w", t, c.name, berr.ErrScopedOnRoot)
		}

		return resolve(root, nil, t, track)
	}

	ls, err := s.linkedScope(root)
	if err != nil {
		return reflect.Value{}, err
	}

	return resolve(root, ls, t, track)
}
