package branch

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-branch-host/container"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
	"github.com/next-trace/scg-branch-host/servicebus"
)

// Identity names the branch a container belongs to. Every branch container holds one.
type Identity struct {
	Name  string
	Paths []string
}

// Factory builds isolated branch containers and publishes them into the bridge.
type Factory struct {
	forwarder *Forwarder
	bridge    *Bridge
	bus       *servicebus.Bus
	logger    *slog.Logger
}

// NewFactory returns a factory. bus may be nil when no branch declares consumers.
func NewFactory(f *Forwarder, bridge *Bridge, bus *servicebus.Bus, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Factory{forwarder: f, bridge: bridge, bus: bus, logger: logger}
}

// Build constructs the branch described by d: forwards, identity, scoped consumers, module
// services, seal, compiled handler chain, and only then publication into the bridge.
// On failure nothing is published and the partial container is closed.
func (f *Factory) Build(d Descriptor) (br *Branch, err error) {
	c := container.New(d.Name)

	defer func() {
		if err != nil {
			err = errors.Join(err, c.Close())
		}
	}()

	if err := f.forwarder.Install(c); err != nil {
		return nil, err
	}

	if err := c.RegisterInstance(Identity{Name: d.Name, Paths: append([]string(nil), d.Paths...)}); err != nil {
		return nil, berr.Op("register identity", d.Name, err)
	}

	if err := f.registerConsumers(c, d); err != nil {
		return nil, err
	}

	if err := d.Module.ConfigureServices(c); err != nil {
		return nil, berr.Op("configure services", d.Name, err)
	}

	c.Seal()

	var cb ChainBuilder
	if err := d.Module.ConfigureHandlers(&cb); err != nil {
		return nil, berr.Op("configure handlers", d.Name, err)
	}

	br = &Branch{Descriptor: d, Container: c, Chain: cb.build()}

	if err := f.bridge.Register(d.Name, c); err != nil {
		return nil, err
	}

	f.logger.Info("branch published", "branch", d.Name, "paths", d.Paths)

	return br, nil
}

// registerConsumers registers every declared consumer type scoped, so each request or
// dispatch gets its own instance, and binds it on the bus.
func (f *Factory) registerConsumers(c *container.Container, d Descriptor) error {
	specs := d.Module.Consumers()
	if len(specs) > 0 && f.bus == nil {
		return berr.Op("bind consumers", d.Name, berr.ErrAsyncNotConfigured)
	}

	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return berr.Op("register consumer", d.Name, err)
		}

		// A consumer type shared by several message bindings is registered once.
		switch lt, ok := c.Lifetime(s.Consumer); {
		case !ok:
			if err := c.Register(s.Ctor, container.Scoped); err != nil {
				return berr.Op("register consumer "+s.Consumer.String(), d.Name, err)
			}
		case lt != container.Scoped || c.Forwarded(s.Consumer):
			return berr.Op("register consumer "+s.Consumer.String(), d.Name,
				fmt.Errorf("%w: already registered as %s, consumers must be branch scoped", berr.ErrRegisterDuplicate, lt))
		}

		if err := f.bus.Bind(d.Name, s); err != nil {
			return err
		}
	}

	return nil
}
