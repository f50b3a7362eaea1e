package bus

import "reflect"

// HeaderMessageType carries the message type name across transports so the receiving
// host can decode the payload into the right Go type.
const HeaderMessageType = "x-message-type"

// IntegrationEvent represents messages destined to external brokers. Topic() guides routing.
type IntegrationEvent interface{ Topic() string }

// MessageName returns the transport name of v's type: the package-qualified type name
// with pointers stripped, e.g. "demo.Greeting".
func MessageName(v any) string {
	if v == nil {
		return ""
	}

	return TypeName(reflect.TypeOf(v))
}

// TypeName is MessageName for a reflect.Type.
func TypeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t.String()
}
