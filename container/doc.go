/*
Package container provides the reflection-based service container used by every branch.

A Container holds registrations keyed by type with a Singleton, Scoped or Transient lifetime.
It accepts registrations until Seal; afterwards it is read-only and safe for unsynchronized
concurrent resolution. Scopes layer per-request or per-dispatch instances over a container and
release what they built on Close. Forward lets an isolated container delegate selected types
to a root container while keeping the root's lifetime semantics.
*/
package container
