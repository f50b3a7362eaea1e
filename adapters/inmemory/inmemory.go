package inmemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Publisher is a thread-safe in-memory implementation of cbus.EventPublisher.
// It records every published event. While a sink is listening, each event is also encoded
// and delivered to it synchronously, so one process can act as its own broker.
type Publisher struct {
	mu     sync.Mutex
	Events []cbus.IntegrationEvent
	sink   cbus.Inbound
}

func (p *Publisher) PublishIntegration(
	ctx context.Context,
	e cbus.IntegrationEvent,
	opts cbus.PublishOptions,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.Events = append(p.Events, e)
	sink := p.sink
	p.mu.Unlock()

	if sink == nil {
		return nil
	}

	name := opts.Headers[cbus.HeaderMessageType]
	if name == "" {
		name = cbus.MessageName(e)
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("inmemory publish serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return sink.DeliverEncoded(ctx, name, body)
}

// Listen delivers published events into sink until ctx is done or stop is called.
// Only one sink may listen at a time.
func (p *Publisher) Listen(ctx context.Context, sink cbus.Inbound) (func(), error) {
	if sink == nil {
		return nil, fmt.Errorf("inmemory listen: %w: nil sink", berr.ErrSubscribeFailed)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sink != nil {
		return nil, fmt.Errorf("inmemory listen: %w: already listening", berr.ErrSubscribeFailed)
	}

	p.sink = sink

	stop := sync.OnceFunc(func() {
		p.mu.Lock()
		p.sink = nil
		p.mu.Unlock()
	})

	context.AfterFunc(ctx, stop)

	return stop, nil
}

// Published returns a copy of the recorded events.
func (p *Publisher) Published() []cbus.IntegrationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]cbus.IntegrationEvent(nil), p.Events...)
}

// Adapter is the loopback transport.
// Use with branch.WithEventPublisher(inmemory.New()) and Listen(ctx, host.Bus()).
type Adapter struct {
	Publisher
}

// Ensure Adapter implements the combined contract.
var _ cbus.Adapter = (*Adapter)(nil)

// New creates a new in-memory adapter instance.
func New() *Adapter { return &Adapter{} }
