package branch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"sync"

	"github.com/next-trace/scg-branch-host/container"
	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
	"github.com/next-trace/scg-branch-host/servicebus"
)

type options struct {
	logger   *slog.Logger
	pub      cbus.EventPublisher
	strict   bool
	observer Observer
	busOpts  []servicebus.BusOption
}

// Option configures a Builder.
type Option func(*options)

// WithLogger sets the host logger. It is also shared into every branch.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithEventPublisher sets the transport used for outbound integration events.
func WithEventPublisher(p cbus.EventPublisher) Option { return func(o *options) { o.pub = p } }

// WithStrictSharedTypes makes Build fail when a shared type, declared or default, has no
// root registration.
func WithStrictSharedTypes() Option { return func(o *options) { o.strict = true } }

// WithObserver installs a request lifecycle observer.
func WithObserver(obs Observer) Option { return func(o *options) { o.observer = obs } }

// WithBusOptions passes options to the message bus.
func WithBusOptions(opts ...servicebus.BusOption) Option {
	return func(o *options) { o.busOpts = append(o.busOpts, opts...) }
}

// Builder is the startup configuration surface of a Host. It is not safe for concurrent use.
type Builder struct {
	reg    *Registry
	root   *container.Container
	shared []reflect.Type
	opts   options
	err    error
}

// NewBuilder returns a builder with an empty root container.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{reg: NewRegistry(), root: container.New("root")}
	for _, o := range opts {
		o(&b.opts)
	}

	if b.opts.logger == nil {
		b.opts.logger = slog.New(slog.DiscardHandler)
	}

	return b
}

// Root returns the root container for shared registrations. It is sealed by Build.
func (b *Builder) Root() *container.Container { return b.root }

// AddBranch registers a branch and reports configuration errors immediately.
func (b *Builder) AddBranch(name string, paths []string, m Module) error {
	return b.reg.AddBranch(name, paths, m)
}

// Branch is the chaining form of AddBranch. The first error is kept and returned by Build.
func (b *Builder) Branch(name string, m Module, paths ...string) *Builder {
	if err := b.reg.AddBranch(name, paths, m); err != nil && b.err == nil {
		b.err = err
	}

	return b
}

// DeclareSharedServiceTypes allow-lists root types for forwarding into every branch.
// Branch resolution of a type that is neither declared nor registered locally fails.
func (b *Builder) DeclareSharedServiceTypes(types ...reflect.Type) error {
	if b.reg.Closed() {
		return berr.Op("declare shared types", "", berr.ErrRegistryClosed)
	}

	for _, t := range types {
		if t == nil {
			return berr.Op("declare shared types", "", fmt.Errorf("%w: nil type", berr.ErrInvalidBranch))
		}
	}

	b.shared = append(b.shared, types...)

	return nil
}

// Share declares T as a shared service type.
func Share[T any](b *Builder) error {
	return b.DeclareSharedServiceTypes(reflect.TypeFor[T]())
}

// Build finalizes configuration: it seals the root, builds and publishes every branch
// container, seals the bridge and the bus, and compiles the router. It must be the last
// configuration call.
func (b *Builder) Build() (*Host, error) {
	if b.err != nil {
		return nil, b.err
	}

	if b.reg.Closed() {
		return nil, berr.Op("build", "", berr.ErrRegistryClosed)
	}

	descs := b.reg.Close()
	logger := b.opts.logger

	bridge := NewBridge()
	bus := servicebus.New(bridge, b.opts.pub, logger, b.opts.busOpts...)

	if err := b.registerDefaults(bus); err != nil {
		return nil, err
	}

	b.root.Seal()

	fw := NewForwarder(b.root, b.sharedSpecs()...)
	if b.opts.strict {
		if err := fw.Validate(); err != nil {
			return nil, fmt.Errorf("build: %w", err)
		}
	}

	factory := NewFactory(fw, bridge, bus, logger)
	branches := make([]*Branch, 0, len(descs))

	for _, d := range descs {
		br, err := factory.Build(d)
		if err != nil {
			return nil, errors.Join(err, closeBranches(branches))
		}

		branches = append(branches, br)
	}

	bridge.Seal()
	bus.Seal()

	h := &Host{
		root:     b.root,
		bridge:   bridge,
		bus:      bus,
		branches: branches,
		router:   NewRouter(branches, logger, b.opts.observer),
		logger:   logger,
	}

	for _, br := range branches {
		for _, p := range br.Paths {
			if p == "" {
				h.rootMounted = true
			}
		}
	}

	logger.Info("branch host built", "branches", len(branches))

	return h, nil
}

func (b *Builder) registerDefaults(bus *servicebus.Bus) error {
	var errs []error

	add := func(t reflect.Type, register func() error) {
		if !b.root.Has(t) {
			errs = append(errs, register())
		}
	}

	add(reflect.TypeFor[*slog.Logger](), func() error { return b.root.RegisterInstance(b.opts.logger) })
	add(reflect.TypeFor[*servicebus.Bus](), func() error { return b.root.RegisterInstance(bus) })
	add(reflect.TypeFor[cbus.Publisher](), func() error {
		return b.root.RegisterInstanceAs(bus, (*cbus.Publisher)(nil))
	})

	if b.opts.pub != nil {
		add(reflect.TypeFor[cbus.EventPublisher](), func() error {
			return b.root.RegisterInstanceAs(bus, (*cbus.EventPublisher)(nil))
		})
	}

	if err := errors.Join(errs...); err != nil {
		return berr.Op("register shared defaults", "", err)
	}

	return nil
}

func (b *Builder) sharedSpecs() []SharedServiceSpec {
	optional := !b.opts.strict
	specs := []SharedServiceSpec{
		{Type: reflect.TypeFor[*slog.Logger](), Lifetime: container.Singleton, Optional: optional},
		{Type: reflect.TypeFor[cbus.EventPublisher](), Lifetime: container.Singleton, Optional: optional},
		{Type: reflect.TypeFor[*servicebus.Bus](), Lifetime: container.Singleton, Optional: optional},
		{Type: reflect.TypeFor[cbus.Publisher](), Lifetime: container.Singleton, Optional: optional},
	}

	for _, t := range b.shared {
		specs = append(specs, SharedServiceSpec{Type: t, Lifetime: container.Singleton})
	}

	return specs
}

// Host is the runtime produced by Builder.Build. All methods are safe for concurrent use.
type Host struct {
	root        *container.Container
	bridge      *Bridge
	bus         *servicebus.Bus
	branches    []*Branch
	router      *Router
	rootMounted bool
	logger      *slog.Logger

	shutdown sync.Once
	errDown  error
}

var _ http.Handler = (*Host)(nil)

// Route runs ex through the matching branch. See Router.Route.
func (h *Host) Route(ctx context.Context, ex *Exchange) error { return h.router.Route(ctx, ex) }

// RootMounted reports whether a branch serves the root path.
func (h *Host) RootMounted() bool { return h.rootMounted }

// ServeHTTP routes r. A routing miss answers 404, except GET / which answers "App running!"
// when no branch is mounted at the root.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.Route(r.Context(), &Exchange{Request: r, Writer: w, Path: r.URL.Path})

	switch {
	case err == nil:
	case errors.Is(err, berr.ErrRoutingMiss):
		if r.Method == http.MethodGet && r.URL.Path == "/" && !h.rootMounted {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, "App running!")

			return
		}

		http.NotFound(w, r)
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Dispatch delivers msg to every bound consumer across branches.
func (h *Host) Dispatch(ctx context.Context, msg any) []cbus.DispatchResult {
	return h.bus.Dispatch(ctx, msg)
}

// Bus returns the message bus.
func (h *Host) Bus() *servicebus.Bus { return h.bus }

// Bridge returns the sealed branch bridge.
func (h *Host) Bridge() *Bridge { return h.bridge }

// Root returns the sealed root container.
func (h *Host) Root() *container.Container { return h.root }

// Branches returns the branch descriptors in registration order.
func (h *Host) Branches() []Descriptor {
	out := make([]Descriptor, len(h.branches))
	for i, b := range h.branches {
		out[i] = b.Descriptor
	}

	return out
}

// Shutdown closes every branch container, newest first, then the root container.
// Only singletons the containers built are closed. Later calls return the first result.
func (h *Host) Shutdown(ctx context.Context) error {
	h.shutdown.Do(func() {
		h.errDown = errors.Join(closeBranches(h.branches), h.bus.Close(), h.root.Close())
		h.logger.InfoContext(ctx, "branch host stopped")
	})

	return h.errDown
}

func closeBranches(branches []*Branch) error {
	var errs []error

	for i := len(branches) - 1; i >= 0; i-- {
		if err := branches[i].Container.Close(); err != nil {
			errs = append(errs, berr.Op("close", branches[i].Name, err))
		}
	}

	return errors.Join(errs...)
}
