package servicebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/next-trace/scg-branch-host/container"
	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// ContainerLookup resolves a branch name to its sealed, isolated container.
// Lookups happen on the dispatch hot path and must be safe for concurrent use.
type ContainerLookup interface {
	Lookup(branch string) (*container.Container, bool)
}

// Bus delivers in-process messages to the consumers bound in every branch.
// Bindings are recorded at configuration time; after Seal they are read without locking.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	mu       sync.RWMutex
	bindings map[reflect.Type][]binding
	names    map[string]reflect.Type
	sealed   atomic.Bool

	// consumer middleware executed in registration order
	mw []ConsumerMiddleware

	lookup ContainerLookup
	pub    cbus.EventPublisher
	logger *slog.Logger
}

type binding struct {
	branch string
	spec   ConsumerSpec
}

// Delivery describes one consumer invocation as seen by middleware.
type Delivery struct {
	Branch   string
	Message  any
	Consumer reflect.Type
	Scope    *container.Scope
}

// ConsumeFunc handles one delivery.
type ConsumeFunc func(ctx context.Context, d *Delivery) error

// ConsumerMiddleware wraps consumer execution. Middlewares are executed in registration order.
type ConsumerMiddleware func(next ConsumeFunc) ConsumeFunc

// BusOption configures a Bus instance.
type BusOption func(*Bus)

// WithConsumerMiddleware registers consumer middleware via an option.
func WithConsumerMiddleware(mw ...ConsumerMiddleware) BusOption {
	return func(b *Bus) { b.mw = append(b.mw, mw...) }
}

var (
	_ cbus.Dispatcher     = (*Bus)(nil)
	_ cbus.Publisher      = (*Bus)(nil)
	_ cbus.EventPublisher = (*Bus)(nil)
	_ cbus.Inbound        = (*Bus)(nil)
)

// New constructs a Bus resolving branch containers through lookup.
// pub is optional and only needed for PublishIntegration.
func New(lookup ContainerLookup, pub cbus.EventPublisher, logger *slog.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	b := &Bus{
		bindings: make(map[reflect.Type][]binding),
		names:    make(map[string]reflect.Type),
		lookup:   lookup,
		pub:      pub,
		logger:   logger,
	}

	for _, o := range opts {
		o(b)
	}

	return b
}

// Bind records that branch consumes spec.Message with spec.Consumer.
// A message type may be bound in many branches, but only once per branch.
func (b *Bus) Bind(branch string, spec ConsumerSpec) error {
	if err := spec.Validate(); err != nil {
		return berr.Op("bind", branch, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed.Load() {
		return berr.Op("bind "+spec.Message.String(), branch, berr.ErrBusSealed)
	}

	for _, e := range b.bindings[spec.Message] {
		if e.branch == branch {
			return berr.Op("bind "+spec.Message.String(), branch, berr.ErrHandlerExists)
		}
	}

	name := cbus.TypeName(spec.Message)
	if prev, ok := b.names[name]; ok && prev != spec.Message {
		return berr.Op("bind "+spec.Message.String(), branch,
			fmt.Errorf("%w: message name %q already bound to %s", berr.ErrHandlerExists, name, prev))
	}

	b.names[name] = spec.Message
	b.bindings[spec.Message] = append(b.bindings[spec.Message], binding{branch: branch, spec: spec})

	return nil
}

// Seal stops accepting bindings. Dispatch reads the binding table without locking afterwards.
func (b *Bus) Seal() {
	b.mu.Lock()
	b.sealed.Store(true)
	b.mu.Unlock()
}

// Bindings lists every consumer binding, grouped by message type in no particular order.
func (b *Bus) Bindings() []ConsumerBinding {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []ConsumerBinding

	for t, entries := range b.bindings {
		for _, e := range entries {
			out = append(out, ConsumerBinding{Message: t, Branch: e.branch, Consumer: e.spec.Consumer})
		}
	}

	return out
}

// Dispatch delivers msg to every consumer bound to its type, one result per binding in
// binding order. Deliveries to different branches run concurrently and independently.
func (b *Bus) Dispatch(ctx context.Context, msg any) []cbus.DispatchResult {
	return b.dispatch(ctx, msg, "")
}

// DispatchTo delivers msg only to the consumers bound inside branch.
func (b *Bus) DispatchTo(ctx context.Context, branch string, msg any) []cbus.DispatchResult {
	return b.dispatch(ctx, msg, branch)
}

// Publish dispatches msg in-process and joins the failures of every consumer.
func (b *Bus) Publish(ctx context.Context, msg any) error {
	var errs []error

	for _, r := range b.Dispatch(ctx, msg) {
		if r.Err == nil {
			continue
		}

		var op *berr.OpError
		if errors.As(r.Err, &op) {
			errs = append(errs, r.Err)
			continue
		}

		errs = append(errs, berr.Op("consume "+cbus.MessageName(msg), r.Branch, r.Err))
	}

	return errors.Join(errs...)
}

// DeliverEncoded decodes a JSON payload received from a transport into the bound message
// type named name, then publishes it in-process.
func (b *Bus) DeliverEncoded(ctx context.Context, name string, body []byte) error {
	t, ok := b.messageType(name)
	if !ok {
		return fmt.Errorf("deliver %q: %w", name, berr.ErrUnknownMessage)
	}

	msg, err := decode(t, body)
	if err != nil {
		return fmt.Errorf("deliver %q: %w", name, errors.Join(berr.ErrSerializationFailed, err))
	}

	return b.Publish(ctx, msg)
}

// PublishIntegration publishes an integration event via the configured EventPublisher.
// The message type header is set so a receiving host can decode the payload.
func (b *Bus) PublishIntegration(ctx context.Context, e cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	if b.pub == nil {
		return fmt.Errorf("publish integration %T: %w", e, berr.ErrAsyncNotConfigured)
	}

	h := make(map[string]string, len(opts.Headers)+1)
	maps.Copy(h, opts.Headers)

	if _, ok := h[cbus.HeaderMessageType]; !ok {
		h[cbus.HeaderMessageType] = cbus.MessageName(e)
	}

	opts.Headers = h

	return b.pub.PublishIntegration(ctx, e, opts)
}

// Close releases nothing today: branch containers belong to their branches and transports to
// their adapters. It exists to satisfy cbus.Dispatcher.
func (b *Bus) Close() error { return nil }

func (b *Bus) messageType(name string) (reflect.Type, bool) {
	if !b.sealed.Load() {
		b.mu.RLock()
		defer b.mu.RUnlock()
	}

	t, ok := b.names[name]

	return t, ok
}

func (b *Bus) entries(t reflect.Type, only string) []binding {
	if !b.sealed.Load() {
		b.mu.RLock()
		defer b.mu.RUnlock()
	}

	all := b.bindings[t]
	if only == "" {
		return append([]binding(nil), all...)
	}

	var out []binding

	for _, e := range all {
		if e.branch == only {
			out = append(out, e)
		}
	}

	return out
}

func (b *Bus) dispatch(ctx context.Context, msg any, only string) []cbus.DispatchResult {
	if msg == nil {
		return nil
	}

	entries := b.entries(reflect.TypeOf(msg), only)
	if len(entries) == 0 {
		b.logger.DebugContext(ctx, "no consumers bound", "message", cbus.MessageName(msg), "branch", only)
		return nil
	}

	results := make([]cbus.DispatchResult, len(entries))

	if len(entries) == 1 {
		results[0] = b.deliver(ctx, entries[0], msg)
		return results
	}

	var wg sync.WaitGroup

	for i, e := range entries {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results[i] = b.deliver(ctx, e, msg)
		}()
	}

	wg.Wait()

	return results
}

// deliver runs one binding inside its own dispatch scope. The scope is released on every exit
// path, including consumer panics, which are turned into ErrConsumerPanicked for this result only.
func (b *Bus) deliver(ctx context.Context, e binding, msg any) (res cbus.DispatchResult) {
	name := cbus.MessageName(msg)
	res = cbus.DispatchResult{Branch: e.branch, Consumer: e.spec.Consumer.String()}

	defer func() {
		if r := recover(); r != nil {
			res.Err = berr.Op("consume "+name, e.branch, fmt.Errorf("%w: %v", berr.ErrConsumerPanicked, r))
		}

		if res.Err != nil {
			b.logger.WarnContext(ctx, "dispatch failed",
				"message", name, "branch", e.branch, "consumer", res.Consumer, "err", res.Err)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	var (
		c  *container.Container
		ok bool
	)

	if b.lookup != nil {
		c, ok = b.lookup.Lookup(e.branch)
	}

	if !ok {
		res.Err = berr.Op("dispatch "+name, e.branch, berr.ErrBranchUnavailable)
		return res
	}

	scope := c.NewScope()

	defer func() {
		if err := scope.Close(); err != nil {
			b.logger.WarnContext(ctx, "dispatch scope release failed", "branch", e.branch, "err", err)

			if res.Err == nil {
				res.Err = berr.Op("release scope", e.branch, err)
			}
		}
	}()

	d := &Delivery{Branch: e.branch, Message: msg, Consumer: e.spec.Consumer, Scope: scope}
	res.Err = b.chain(e.spec)(container.WithResolver(ctx, scope), d)

	return res
}

func (b *Bus) chain(spec ConsumerSpec) ConsumeFunc {
	var final ConsumeFunc = func(ctx context.Context, d *Delivery) error {
		consumer, err := d.Scope.ResolveType(spec.Consumer)
		if err != nil {
			return berr.Op("resolve consumer "+spec.Consumer.String(), d.Branch, err)
		}

		return spec.invoke(ctx, consumer, d.Message)
	}

	// Build chain so the first registered middleware runs first
	for i := len(b.mw) - 1; i >= 0; i-- {
		final = b.mw[i](final)
	}

	return final
}

func decode(t reflect.Type, body []byte) (any, error) {
	base := t
	for base.Kind() == reflect.Ptr {
		base = base.Elem()
	}

	v := reflect.New(base)
	if err := json.Unmarshal(body, v.Interface()); err != nil {
		return nil, err
	}

	if t.Kind() == reflect.Ptr {
		return v.Interface(), nil
	}

	return v.Elem().Interface(), nil
}
