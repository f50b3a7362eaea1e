package bus

import "context"

// Consumer handles messages of type M inside one branch.
// A fresh consumer instance is resolved from a dispatch scope for every delivery,
// so implementations may hold per-delivery state.
type Consumer[M any] interface {
	Consume(ctx context.Context, msg M) error
}
