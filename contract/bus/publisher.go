package bus

import "context"

// EventPublisher abstracts publishing integration events to a broker/bus.
// Library users provide an implementation that maps to Kafka/NATS/RabbitMQ etc.
type EventPublisher interface {
	PublishIntegration(ctx context.Context, evt IntegrationEvent, opts PublishOptions) error
}

// Publisher publishes a message in-process to every branch consuming its type.
// Branch code depends on this instead of the concrete bus.
type Publisher interface {
	Publish(ctx context.Context, msg any) error
}
