package branch

import (
	"errors"
	"reflect"

	"github.com/next-trace/scg-branch-host/container"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// SharedServiceSpec allow-lists one root service type for forwarding into branches.
// Lifetime is used only when the root has no registration to take it from.
// Optional specs are skipped when the root lacks the type instead of failing on resolution.
type SharedServiceSpec struct {
	Type     reflect.Type
	Lifetime container.Lifetime
	Optional bool
}

// Forwarder installs forwarding bindings from a root container into branch containers.
type Forwarder struct {
	root  *container.Container
	specs []SharedServiceSpec
}

// NewForwarder returns a forwarder for the given specs. Duplicate types keep the first spec.
func NewForwarder(root *container.Container, specs ...SharedServiceSpec) *Forwarder {
	f := &Forwarder{root: root}
	seen := make(map[reflect.Type]bool, len(specs))

	for _, s := range specs {
		if s.Type == nil || seen[s.Type] {
			continue
		}

		seen[s.Type] = true
		f.specs = append(f.specs, s)
	}

	return f
}

// Specs returns the allow-list.
func (f *Forwarder) Specs() []SharedServiceSpec { return append([]SharedServiceSpec(nil), f.specs...) }

// Install adds one forwarding binding per spec to c. The root's registered lifetime wins over
// the declared one. A required type missing from the root is still installed and fails with
// ErrUnregisteredSharedType when resolved.
func (f *Forwarder) Install(c *container.Container) error {
	for _, s := range f.specs {
		lt, ok := f.root.Lifetime(s.Type)
		if !ok {
			if s.Optional {
				continue
			}

			lt = s.Lifetime
		}

		if err := c.Forward(s.Type, f.root, lt); err != nil {
			return berr.Op("forward "+s.Type.String(), c.Name(), err)
		}
	}

	return nil
}

// Validate reports every required spec the root cannot serve.
func (f *Forwarder) Validate() error {
	var errs []error

	for _, s := range f.specs {
		if s.Optional || f.root.Has(s.Type) {
			continue
		}

		errs = append(errs, berr.Op("forward "+s.Type.String(), "", berr.ErrUnregisteredSharedType))
	}

	return errors.Join(errs...)
}
