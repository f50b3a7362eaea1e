package bus

import "context"

// Adapter is a convenience interface for transports that both publish integration
// events and feed received ones back into an Inbound sink.
//
// This keeps the host decoupled from concrete transports while enabling simple injection
// of user-provided adapters (Kafka, NATS, RabbitMQ, in-memory, etc.).
type Adapter interface {
	EventPublisher

	// Listen starts delivering received messages into sink until ctx is done or the
	// returned stop function is called.
	Listen(ctx context.Context, sink Inbound) (stop func(), err error)
}
