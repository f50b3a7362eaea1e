/*
Package rabbitmq provides a RabbitMQ transport for the branch host.
Integration events are published on the "integration" topic exchange with the message type
carried in a header. Listen consumes a durable queue bound to that exchange and acks or
nacks each delivery by its dispatch outcome. A connection-backed constructor reconnects
with backoff.
*/
package rabbitmq
