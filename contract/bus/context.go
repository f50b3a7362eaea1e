package bus

import "context"

// HeaderPropagator abstracts injecting tracing context into headers.
// Implementations may bridge to OpenTelemetry or any other propagation standard.
// Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// HeaderExtractor restores context values carried in headers of a received message.
type HeaderExtractor interface {
	Extract(ctx context.Context, headers map[string]string) context.Context
}

// NopHeaderPropagator is a no-op implementation useful for tests or when tracing is disabled.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}

func (NopHeaderPropagator) Extract(ctx context.Context, _ map[string]string) context.Context {
	return ctx
}
