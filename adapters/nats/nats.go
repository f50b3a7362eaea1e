package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Msg is a received message as handed over by a Client subscription.
type Msg struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error

	// Subscribe calls handle for every message on subject. A non-empty queue joins a queue
	// group so that only one member receives each message.
	Subscribe(subject, queue string, handle func(Msg)) (unsubscribe func() error, err error)
}

// Adapter implements cbus.Adapter using an injected NATS-like Client.
type Adapter struct {
	Client   Client
	Subjects []string
	Queue    string
	Logger   *slog.Logger
}

// Ensure Adapter implements the combined contract.
var _ cbus.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithSubjects sets the subjects Listen subscribes to.
func WithSubjects(subjects ...string) Option {
	return func(a *Adapter) { a.Subjects = append(a.Subjects, subjects...) }
}

// WithQueueGroup makes Listen join a queue group.
func WithQueueGroup(q string) Option { return func(a *Adapter) { a.Queue = q } }

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.Logger = l } }

// New creates a new NATS adapter instance with the provided client.
func New(c Client, opts ...Option) *Adapter {
	a := &Adapter{Client: c}
	for _, o := range opts {
		o(a)
	}

	if a.Logger == nil {
		a.Logger = slog.New(slog.DiscardHandler)
	}

	return a
}

func (a *Adapter) PublishIntegration(ctx context.Context, e cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	if err := a.ready(ctx, berr.ErrPublishFailed, "publish"); err != nil {
		return err
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("nats publish serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	args := &publishArgs{
		subject: topicForEvent(e, opts),
		body:    body,
		headers: publishHeaders(e, opts),
	}

	return a.publish(ctx, args)
}

// Listen subscribes to every configured subject and delivers received messages into sink.
// Messages without a message type header are dropped with a warning; core NATS has no
// redelivery, so delivery failures are logged.
func (a *Adapter) Listen(ctx context.Context, sink cbus.Inbound) (func(), error) {
	if err := a.ready(ctx, berr.ErrSubscribeFailed, "listen"); err != nil {
		return nil, err
	}

	if sink == nil || len(a.Subjects) == 0 {
		return nil, fmt.Errorf("nats listen: %w: sink and at least one subject are required", berr.ErrSubscribeFailed)
	}

	unsubs := make([]func() error, 0, len(a.Subjects))

	stop := sync.OnceFunc(func() {
		for _, u := range unsubs {
			_ = u() //nolint:errcheck // best-effort shutdown
		}
	})

	for _, subj := range a.Subjects {
		u, err := a.Client.Subscribe(subj, a.Queue, func(m Msg) { a.deliver(ctx, sink, m) })
		if err != nil {
			stop()
			return nil, fmt.Errorf("nats subscribe %q: %w", subj, errors.Join(berr.ErrSubscribeFailed, err))
		}

		unsubs = append(unsubs, u)
	}

	context.AfterFunc(ctx, stop)

	return stop, nil
}

func (a *Adapter) deliver(ctx context.Context, sink cbus.Inbound, m Msg) {
	name := m.Headers[cbus.HeaderMessageType]
	if name == "" {
		a.Logger.WarnContext(ctx, "nats message without type header dropped", "subject", m.Subject)
		return
	}

	if err := sink.DeliverEncoded(ctx, name, m.Data); err != nil {
		a.Logger.WarnContext(ctx, "nats delivery failed", "subject", m.Subject, "message", name, "err", err)
	}
}

type publishArgs struct {
	subject string
	body    []byte
	headers map[string]string
}

func (a *Adapter) publish(_ context.Context, args *publishArgs) error {
	if err := a.Client.Publish(args.subject, args.body, args.headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats publish: %w", errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, base)
	}

	return nil
}

// helpers

func topicForEvent(e cbus.IntegrationEvent, o cbus.PublishOptions) string {
	if o.TopicOverride != "" {
		return o.TopicOverride
	}

	return e.Topic()
}

func publishHeaders(e cbus.IntegrationEvent, o cbus.PublishOptions) map[string]string {
	h := make(map[string]string, len(o.Headers)+2)
	maps.Copy(h, o.Headers)

	if o.Key != "" {
		h["key"] = o.Key
	}

	if _, ok := h[cbus.HeaderMessageType]; !ok {
		h[cbus.HeaderMessageType] = cbus.MessageName(e)
	}

	return h
}
