package bus

import "context"

// Inbound is the sink transports deliver received payloads into.
// name is the message type name (see HeaderMessageType); body is the encoded message.
// A non-nil error means at least one bound consumer failed and the transport's own
// redelivery/ack policy applies.
type Inbound interface {
	DeliverEncoded(ctx context.Context, name string, body []byte) error
}
