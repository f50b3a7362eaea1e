package servicebus

import (
	"context"
	"fmt"
	"reflect"

	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// ConsumerSpec declares one (message type, consumer type) pair of a branch manifest.
// Ctor builds the consumer; the branch registers it scoped so every delivery gets a fresh instance.
type ConsumerSpec struct {
	Message  reflect.Type
	Consumer reflect.Type
	Ctor     any

	invoke func(ctx context.Context, consumer, msg any) error
}

// ConsumerFor declares that consumer type C handles messages of type M.
// ctor must be a constructor function whose first result is C.
func ConsumerFor[M any, C cbus.Consumer[M]](ctor any) ConsumerSpec {
	return ConsumerSpec{
		Message:  reflect.TypeFor[M](),
		Consumer: reflect.TypeFor[C](),
		Ctor:     ctor,
		invoke: func(ctx context.Context, consumer, msg any) error {
			m, ok := msg.(M)
			if !ok {
				return fmt.Errorf("consume %T: %w", msg, berr.ErrHandlerTypeMismatch)
			}

			c, ok := consumer.(C)
			if !ok {
				return fmt.Errorf("consume with %T: %w", consumer, berr.ErrHandlerTypeMismatch)
			}

			return c.Consume(ctx, m)
		},
	}
}

// Validate reports whether the spec was built by ConsumerFor and its constructor produces the consumer type.
func (s ConsumerSpec) Validate() error {
	if s.invoke == nil || s.Message == nil || s.Consumer == nil {
		return fmt.Errorf("consumer spec: %w: use ConsumerFor", berr.ErrInvalidConstructor)
	}

	ft := reflect.TypeOf(s.Ctor)
	if ft == nil || ft.Kind() != reflect.Func || ft.NumOut() == 0 || ft.Out(0) != s.Consumer {
		return fmt.Errorf("consumer %s: %w: constructor must return %s", s.Consumer, berr.ErrInvalidConstructor, s.Consumer)
	}

	return nil
}

// ConsumerBinding is the introspection view of one bound consumer.
type ConsumerBinding struct {
	Message  reflect.Type
	Branch   string
	Consumer reflect.Type
}
