package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/next-trace/scg-branch-host/branch"
	"github.com/next-trace/scg-branch-host/config"
	"github.com/next-trace/scg-branch-host/container"
	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	"github.com/next-trace/scg-branch-host/servicebus"
)

// Greeting is announced by a branch whenever its identity is requested.
type Greeting struct {
	Content string `json:"content"`
}

func (Greeting) Topic() string { return "demo.greetings" }

// IdentityOptions are the per-branch options of the identity module.
type IdentityOptions struct {
	Greeting string `mapstructure:"greeting"`
}

// GreetingConsumer logs every greeting it receives, tagged with its own branch.
type GreetingConsumer struct {
	logger *slog.Logger
	id     branch.Identity
}

func NewGreetingConsumer(logger *slog.Logger, id branch.Identity) *GreetingConsumer {
	return &GreetingConsumer{logger: logger, id: id}
}

func (c *GreetingConsumer) Consume(ctx context.Context, g Greeting) error {
	c.logger.InfoContext(ctx, fmt.Sprintf("[%s] %s", c.id.Name, g.Content), "branch", c.id.Name)
	return nil
}

type identityView struct {
	Name  string   `json:"name"`
	Paths []string `json:"paths"`
}

// Identity answers GET /identity with the branch identity and announces a Greeting to
// every branch. With a transport configured the greeting travels as an integration event.
func Identity(options map[string]any) (branch.Module, error) {
	opts := IdentityOptions{Greeting: "Hallo"}
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}

	return branch.ModuleFuncs{
		Consume: []servicebus.ConsumerSpec{
			servicebus.ConsumerFor[Greeting, *GreetingConsumer](NewGreetingConsumer),
		},
		Handlers: func(cb *branch.ChainBuilder) error {
			cb.Use(accessLog).Handle(func(ctx context.Context, ex *branch.Exchange) error {
				if ex.Request == nil || ex.Writer == nil {
					return nil
				}

				if ex.Path != "/identity" || ex.Request.Method != http.MethodGet {
					http.NotFound(ex.Writer, ex.Request)
					return nil
				}

				id := container.MustGet[branch.Identity](ex.Services)

				g := Greeting{Content: fmt.Sprintf("%s from %s (%q)!", opts.Greeting, id.Name, strings.Join(id.Paths, ","))}
				if err := announce(ctx, ex.Services, g); err != nil {
					return err
				}

				ex.Writer.Header().Set("Content-Type", "application/json")

				return json.NewEncoder(ex.Writer).Encode(identityView{Name: id.Name, Paths: id.Paths})
			})

			return nil
		},
	}, nil
}

func announce(ctx context.Context, r container.Resolver, g Greeting) error {
	pub, found, err := container.TryGet[cbus.EventPublisher](r)
	if err != nil {
		return err
	}

	if found {
		return pub.PublishIntegration(ctx, g, cbus.PublishOptions{})
	}

	return container.MustGet[cbus.Publisher](r).Publish(ctx, g)
}

func accessLog(next branch.Handler) branch.Handler {
	return func(ctx context.Context, ex *branch.Exchange) error {
		err := next(ctx, ex)

		logger := container.MustGet[*slog.Logger](ex.Services)
		logger.DebugContext(ctx, "request handled", "branch", ex.Branch, "path", ex.PathBase+ex.Path, "err", err)

		return err
	}
}
