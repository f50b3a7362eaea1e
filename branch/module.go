package branch

import (
	"github.com/next-trace/scg-branch-host/container"
	"github.com/next-trace/scg-branch-host/servicebus"
)

// Module configures one branch: its local services, its consumer manifest and its handler chain.
type Module interface {
	// ConfigureServices adds branch-local registrations. Forwarded shared types, the branch
	// Identity and the declared consumers are already registered.
	ConfigureServices(c *container.Container) error

	// Consumers lists the (message type, consumer type) pairs the branch handles.
	Consumers() []servicebus.ConsumerSpec

	// ConfigureHandlers compiles the branch's request handler chain.
	ConfigureHandlers(cb *ChainBuilder) error
}

// ModuleFuncs adapts plain functions to Module. Nil fields are no-ops.
type ModuleFuncs struct {
	Services func(c *container.Container) error
	Consume  []servicebus.ConsumerSpec
	Handlers func(cb *ChainBuilder) error
}

var _ Module = ModuleFuncs{}

func (m ModuleFuncs) ConfigureServices(c *container.Container) error {
	if m.Services == nil {
		return nil
	}

	return m.Services(c)
}

func (m ModuleFuncs) Consumers() []servicebus.ConsumerSpec { return m.Consume }

func (m ModuleFuncs) ConfigureHandlers(cb *ChainBuilder) error {
	if m.Handlers == nil {
		return nil
	}

	return m.Handlers(cb)
}
