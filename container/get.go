package container

import (
	"context"
	"fmt"
	"reflect"

	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Get resolves T from r.
func Get[T any](r Resolver) (T, error) {
	var zero T

	t := reflect.TypeFor[T]()

	v, err := r.ResolveType(t)
	if err != nil {
		return zero, err
	}

	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("get %s: %w: got %T", t, berr.ErrTypeMismatch, v)
	}

	return out, nil
}

// TryGet resolves T when it is registered. found is false only when T itself is unknown to r;
// a failure while building T or its dependencies is returned as err.
func TryGet[T any](r Resolver) (v T, found bool, err error) {
	if !r.Has(reflect.TypeFor[T]()) {
		return v, false, nil
	}

	v, err = Get[T](r)

	return v, true, err
}

// MustGet resolves T and panics on failure. Intended for startup wiring and tests.
func MustGet[T any](r Resolver) T {
	v, err := Get[T](r)
	if err != nil {
		panic(err)
	}

	return v
}

// Add registers a typed factory for T.
func Add[T any](c *Container, lt Lifetime, f func(r Resolver) (T, error)) error {
	return c.RegisterFactory(reflect.TypeFor[T](), lt, func(r Resolver) (any, error) {
		return f(r)
	})
}

// ProvideValue adds a request-local instance of T to s.
func ProvideValue[T any](s *Scope, v T) error {
	return s.Provide(reflect.TypeFor[T](), v)
}

type resolverKey struct{}

// WithResolver returns a child context carrying r as the current resolver.
func WithResolver(ctx context.Context, r Resolver) context.Context {
	return context.WithValue(ctx, resolverKey{}, r)
}

// FromContext returns the resolver carried by ctx, if any.
func FromContext(ctx context.Context) (Resolver, bool) {
	r, ok := ctx.Value(resolverKey{}).(Resolver)
	return r, ok
}
