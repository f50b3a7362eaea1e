/*
Package servicebus resolves message consumers across isolated branches.

Each branch declares its consumers as a manifest of ConsumerSpec values. Bind records one
binding per (message type, branch); at dispatch time the bus looks the branch container up
through a ContainerLookup, opens a dispatch scope, resolves a fresh consumer from it, invokes
it and releases the scope. A missing branch is reported as ErrBranchUnavailable, never dropped.

The bus stays decoupled from concrete transports: outbound integration events go through a
cbus.EventPublisher, inbound payloads arrive through DeliverEncoded.
*/
package servicebus
