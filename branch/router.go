package branch

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/next-trace/scg-branch-host/container"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Exchange is one in-flight request as seen by a branch handler chain.
//
// On entry to Route, Path holds the full request path. After a match, PathBase holds the
// matched mount prefix and Path the remainder. Services and the request context carry the
// request scope for the duration of the call and are restored afterwards.
type Exchange struct {
	Request  *http.Request
	Writer   http.ResponseWriter
	Services container.Resolver
	Branch   string
	PathBase string
	Path     string
}

// Handler handles one exchange.
type Handler func(ctx context.Context, ex *Exchange) error

// Middleware wraps a handler.
type Middleware func(next Handler) Handler

// ChainBuilder compiles a branch handler chain. Middleware runs in registration order
// around the terminal handler; without one the chain answers 404.
type ChainBuilder struct {
	mw       []Middleware
	terminal Handler
}

// Use appends middleware.
func (b *ChainBuilder) Use(mw ...Middleware) *ChainBuilder {
	b.mw = append(b.mw, mw...)
	return b
}

// Handle sets the terminal handler, replacing any previous one.
func (b *ChainBuilder) Handle(h Handler) *ChainBuilder {
	b.terminal = h
	return b
}

// HandleHTTP sets an http.Handler as the terminal handler. It sees the request with the
// mount prefix stripped from its URL path.
func (b *ChainBuilder) HandleHTTP(h http.Handler) *ChainBuilder {
	return b.Handle(HTTP(h))
}

func (b *ChainBuilder) build() Handler {
	final := b.terminal
	if final == nil {
		final = notFound
	}

	for i := len(b.mw) - 1; i >= 0; i-- {
		final = b.mw[i](final)
	}

	return final
}

// HTTP adapts an http.Handler to Handler.
func HTTP(h http.Handler) Handler {
	return func(_ context.Context, ex *Exchange) error {
		if ex.Request == nil || ex.Writer == nil {
			return nil
		}

		r := ex.Request.Clone(ex.Request.Context())
		r.URL.Path = ex.Path
		r.URL.RawPath = ""

		h.ServeHTTP(ex.Writer, r)

		return nil
	}
}

func notFound(_ context.Context, ex *Exchange) error {
	if ex.Writer != nil {
		http.NotFound(ex.Writer, ex.Request)
	}

	return nil
}

// RouteState is a step of the per-request lifecycle reported to an Observer.
type RouteState int

const (
	StateReceived RouteState = iota
	StateMatched
	StateRejected
	StateScopeOpen
	StateHandling
	StateFailed
	StateScopeClosed
	StateCompleted
)

func (s RouteState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateMatched:
		return "matched"
	case StateRejected:
		return "rejected"
	case StateScopeOpen:
		return "scope_open"
	case StateHandling:
		return "handling"
	case StateFailed:
		return "failed"
	case StateScopeClosed:
		return "scope_closed"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Observer receives lifecycle transitions. It runs synchronously on the request goroutine.
type Observer func(ctx context.Context, state RouteState, ex *Exchange)

// Branch is a fully built branch: sealed container plus compiled handler chain.
type Branch struct {
	Descriptor
	Container *container.Container
	Chain     Handler
}

type mount struct {
	prefix string
	branch *Branch
}

// Router maps request paths to branches, longest prefix first, ties to registration order.
// It is immutable after construction.
type Router struct {
	mounts   []mount
	logger   *slog.Logger
	observer Observer
}

// NewRouter compiles the mount table of branches.
func NewRouter(branches []*Branch, logger *slog.Logger, observer Observer) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var mounts []mount

	for _, b := range branches {
		for _, p := range b.Paths {
			mounts = append(mounts, mount{prefix: p, branch: b})
		}
	}

	sort.SliceStable(mounts, func(i, j int) bool {
		if len(mounts[i].prefix) != len(mounts[j].prefix) {
			return len(mounts[i].prefix) > len(mounts[j].prefix)
		}

		return mounts[i].branch.Order < mounts[j].branch.Order
	})

	return &Router{mounts: mounts, logger: logger, observer: observer}
}

// Match returns the branch serving path and the matched prefix.
func (r *Router) Match(path string) (*Branch, string, bool) {
	br, prefix, _, ok := r.match(path)
	return br, prefix, ok
}

// match also returns how many bytes of path the prefix covers.
func (r *Router) match(path string) (*Branch, string, int, bool) {
	for _, m := range r.mounts {
		if n, ok := segmentPrefixLen(path, m.prefix); ok {
			return m.branch, m.prefix, n, true
		}
	}

	return nil, "", 0, false
}

// Route runs ex through the chain of the branch whose mount prefix matches ex.Path.
// It returns ErrRoutingMiss when no branch matches. Handler errors are returned unchanged;
// the request scope is always released first, also when the handler panics.
func (r *Router) Route(ctx context.Context, ex *Exchange) (err error) {
	path := ex.Path
	if path == "" && ex.Request != nil {
		path = ex.Request.URL.Path
	}

	r.observe(ctx, StateReceived, ex)

	if err := ctx.Err(); err != nil {
		return err
	}

	br, prefix, n, ok := r.match(path)
	if !ok {
		r.observe(ctx, StateRejected, ex)
		return berr.Op("route "+path, "", berr.ErrRoutingMiss)
	}

	ex.Branch, ex.PathBase, ex.Path = br.Name, prefix, path[n:]
	if ex.Path == "" {
		ex.Path = "/"
	}

	r.observe(ctx, StateMatched, ex)

	scope := br.Container.NewScope()
	prevServices, prevReq := ex.Services, ex.Request

	defer func() {
		ex.Services, ex.Request = prevServices, prevReq

		rec := recover()
		if rec != nil || err != nil {
			r.observe(ctx, StateFailed, ex)
		}

		if cerr := scope.Close(); cerr != nil {
			r.logger.WarnContext(ctx, "request scope release failed", "branch", br.Name, "path", path, "err", cerr)
		}

		r.observe(ctx, StateScopeClosed, ex)

		if rec != nil {
			panic(rec)
		}

		if err == nil {
			r.observe(ctx, StateCompleted, ex)
		}
	}()

	if err := container.ProvideValue(scope, ex); err != nil {
		return berr.Op("route "+path, br.Name, err)
	}

	sctx := container.WithResolver(ctx, scope)
	ex.Services = scope

	if ex.Request != nil {
		ex.Request = ex.Request.WithContext(sctx)
	}

	r.observe(ctx, StateScopeOpen, ex)
	r.logger.DebugContext(ctx, "routing request", "branch", br.Name, "path", path)

	r.observe(ctx, StateHandling, ex)

	return br.Chain(sctx, ex)
}

func (r *Router) observe(ctx context.Context, s RouteState, ex *Exchange) {
	if r.observer != nil {
		r.observer(ctx, s, ex)
	}
}

// segmentPrefixLen reports whether every segment of prefix equals the matching segment of
// path under Unicode case folding, and how many bytes of path those segments span.
// Folded forms may differ in byte length, so segments are compared one by one.
func segmentPrefixLen(path, prefix string) (int, bool) {
	if prefix == "" {
		return 0, true
	}

	n := 0

	for _, seg := range strings.Split(prefix[1:], "/") {
		if n >= len(path) || path[n] != '/' {
			return 0, false
		}

		rest := path[n+1:]

		end := strings.IndexByte(rest, '/')
		if end < 0 {
			end = len(rest)
		}

		if !strings.EqualFold(rest[:end], seg) {
			return 0, false
		}

		n += 1 + end
	}

	return n, true
}
