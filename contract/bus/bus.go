package bus

import "context"

// DispatchResult is the outcome of delivering one message to one bound consumer.
// Err is nil on success; it is never silently dropped.
type DispatchResult struct {
	Branch   string
	Consumer string
	Err      error
}

// Dispatcher is the tech-agnostic contract of the message dispatch resolver.
// Typed helpers remain available via generic helper functions in the servicebus package.
type Dispatcher interface {
	// Dispatch delivers msg to every consumer bound to its type, one result per binding.
	Dispatch(ctx context.Context, msg any) []DispatchResult

	// DispatchTo delivers msg only to the consumers bound inside branch.
	DispatchTo(ctx context.Context, branch string, msg any) []DispatchResult

	// Lifecycle
	Close() error
}
