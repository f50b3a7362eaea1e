package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-branch-host/container"
	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
	"github.com/next-trace/scg-branch-host/memory"
	"github.com/next-trace/scg-branch-host/servicebus"
)

type orderPlaced struct{ ID string }

func (orderPlaced) Topic() string { return "orders" }

type inbox struct{ ids []string }

type orderConsumer struct{ in *inbox }

func newOrderConsumer(in *inbox) *orderConsumer { return &orderConsumer{in: in} }

func (c *orderConsumer) Consume(_ context.Context, o orderPlaced) error {
	if o.ID == "" {
		return errors.New("missing id")
	}

	c.in.ids = append(c.in.ids, o.ID)

	return nil
}

type lookup map[string]*container.Container

func (l lookup) Lookup(name string) (*container.Container, bool) {
	c, ok := l[name]
	return c, ok
}

func TestNew_LoopbackDelivery(t *testing.T) {
	in := &inbox{}

	c := container.New("orders")
	_ = c.RegisterInstance(in)
	_ = c.Register(newOrderConsumer, container.Scoped)
	c.Seal()

	b, ad, cleanup := memory.New(lookup{"orders": c}, nil)
	defer cleanup()

	if err := b.Bind("orders", servicebus.ConsumerFor[orderPlaced, *orderConsumer](newOrderConsumer)); err != nil {
		t.Fatalf("bind: %v", err)
	}

	b.Seal()

	if err := b.PublishIntegration(t.Context(), orderPlaced{ID: "o-1"}, cbus.PublishOptions{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(in.ids) != 1 || in.ids[0] != "o-1" {
		t.Fatalf("consumer did not receive the looped-back event: %v", in.ids)
	}

	if got := ad.Published(); len(got) != 1 {
		t.Fatalf("adapter must record the event, got %d", len(got))
	}

	err := b.PublishIntegration(t.Context(), orderPlaced{}, cbus.PublishOptions{})

	var op *berr.OpError
	if !errors.As(err, &op) || op.Branch != "orders" {
		t.Fatalf("consumer failure must be attributed to its branch, got %v", err)
	}
}
