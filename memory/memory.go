package memory

import (
	"context"
	"log/slog"

	"github.com/next-trace/scg-branch-host/adapters/inmemory"
	"github.com/next-trace/scg-branch-host/servicebus"
)

// New constructs a bus whose integration events travel through the in-memory adapter and
// come straight back into the same bus, so a single process can exercise the full
// publish, decode and dispatch path. The cleanup stops the loopback and closes the bus.
func New(lookup servicebus.ContainerLookup, logger *slog.Logger, opts ...servicebus.BusOption) (*servicebus.Bus, *inmemory.Adapter, func()) {
	ad := inmemory.New()
	sb := servicebus.New(lookup, ad, logger, opts...)

	// Listen only fails for a nil sink or a second listener.
	stop, _ := ad.Listen(context.Background(), sb) //nolint:errcheck // see above

	cleanup := func() {
		stop()
		_ = sb.Close()
	}

	return sb, ad, cleanup
}
