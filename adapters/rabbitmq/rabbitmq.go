package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	integrationExchange   = "integration"
	integrationExchangeTy = "topic"
)

type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Delivery is a received message. Exactly one of Ack or Nack must be called.
type Delivery struct {
	RoutingKey  string
	Body        []byte
	Headers     map[string]string
	Redelivered bool
	Ack         func() error
	Nack        func(requeue bool) error
}

// Consumer feeds deliveries from a queue into handle until ctx is done or stop is called.
type Consumer interface {
	Consume(ctx context.Context, handle func(Delivery)) (stop func() error, err error)
}

type Adapter struct {
	Publisher  Publisher
	Consumer   Consumer
	Propagator cbus.HeaderPropagator // optional, for context propagation into headers
	Logger     *slog.Logger
}

var _ cbus.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithConsumer sets the queue consumer Listen reads from.
func WithConsumer(c Consumer) Option { return func(a *Adapter) { a.Consumer = c } }

// WithPropagator injects context into published headers. When hp also implements
// cbus.HeaderExtractor, Listen restores context from received headers.
func WithPropagator(hp cbus.HeaderPropagator) Option { return func(a *Adapter) { a.Propagator = hp } }

// WithLogger sets the logger used for rejected deliveries.
func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.Logger = l } }

func New(p Publisher, opts ...Option) *Adapter {
	a := &Adapter{Publisher: p}
	for _, o := range opts {
		o(a)
	}

	if a.Logger == nil {
		a.Logger = slog.New(slog.DiscardHandler)
	}

	return a
}

// PublishIntegration publishes e on the integration topic exchange, routed by topic.
func (a *Adapter) PublishIntegration(ctx context.Context, e cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq publish: %w", berr.ErrPublishFailed)
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("rabbitmq publish serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	hdrs := publishHeaders(e, opts)
	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	msg := PubMsg{
		Exchange:   integrationExchange,
		RoutingKey: routingForEvent(e, opts),
		Body:       body,
		Headers:    hdrs,
	}

	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish: %w", errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// Listen consumes from the configured queue and delivers every message into sink.
// A delivery is acked when every bound consumer succeeds. A failed delivery is requeued
// once; a failed redelivery, or a message without a type header, is rejected so the
// broker can dead-letter it.
func (a *Adapter) Listen(ctx context.Context, sink cbus.Inbound) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Consumer == nil || sink == nil {
		return nil, fmt.Errorf("rabbitmq listen: %w: consumer and sink are required", berr.ErrSubscribeFailed)
	}

	stop, err := a.Consumer.Consume(ctx, func(d Delivery) { a.deliver(ctx, sink, d) })
	if err != nil {
		return nil, fmt.Errorf("rabbitmq listen: %w", errors.Join(berr.ErrSubscribeFailed, err))
	}

	return func() { _ = stop() }, nil //nolint:errcheck // best-effort shutdown
}

func (a *Adapter) deliver(ctx context.Context, sink cbus.Inbound, d Delivery) {
	if ex, ok := a.Propagator.(cbus.HeaderExtractor); ok {
		ctx = ex.Extract(ctx, d.Headers)
	}

	name := d.Headers[cbus.HeaderMessageType]
	if name == "" {
		a.Logger.WarnContext(ctx, "rabbitmq message without type header rejected", "routing_key", d.RoutingKey)
		a.settle(ctx, d.Nack(false))

		return
	}

	if err := sink.DeliverEncoded(ctx, name, d.Body); err != nil {
		a.Logger.WarnContext(ctx, "rabbitmq delivery failed",
			"routing_key", d.RoutingKey, "message", name, "redelivered", d.Redelivered, "err", err)
		a.settle(ctx, d.Nack(!d.Redelivered))

		return
	}

	a.settle(ctx, d.Ack())
}

func (a *Adapter) settle(ctx context.Context, err error) {
	if err != nil {
		a.Logger.WarnContext(ctx, "rabbitmq settle failed", "err", err)
	}
}

func routingForEvent(e cbus.IntegrationEvent, o cbus.PublishOptions) string {
	if o.TopicOverride != "" {
		return o.TopicOverride
	}

	return e.Topic()
}

func publishHeaders(e cbus.IntegrationEvent, o cbus.PublishOptions) map[string]string {
	h := make(map[string]string, len(o.Headers)+4)
	maps.Copy(h, o.Headers)

	if o.Key != "" {
		h["key"] = o.Key
	}

	if _, ok := h[cbus.HeaderMessageType]; !ok {
		h[cbus.HeaderMessageType] = cbus.MessageName(e)
	}

	return h
}

// amqpChannel publishes and consumes on a caller-owned channel without reconnecting.
type amqpChannel struct {
	ch    *amqp.Channel
	queue string
}

func (p amqpChannel) Publish(ctx context.Context, m PubMsg) error { return publishOn(ctx, p.ch, m) }

func (p amqpChannel) Consume(ctx context.Context, handle func(Delivery)) (func() error, error) {
	if p.queue == "" {
		return nil, fmt.Errorf("%w: rabbitmq queue required", berr.ErrSubscribeFailed)
	}

	ctx, cancel := context.WithCancel(ctx)

	deliveries, err := consumeOn(ctx, p.ch, p.queue)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		for d := range deliveries {
			handle(fromAMQP(d))
		}
	}()

	return func() error {
		cancel()
		<-done

		return nil
	}, nil
}

// NewWithAMQPChannel builds an Adapter on an open channel. A non-empty queue enables Listen.
func NewWithAMQPChannel(ch *amqp.Channel, queue string, opts ...Option) *Adapter {
	c := amqpChannel{ch: ch, queue: queue}
	if queue != "" {
		opts = append([]Option{WithConsumer(c)}, opts...)
	}

	return New(c, opts...)
}

func publishOn(ctx context.Context, ch *amqp.Channel, m PubMsg) error {
	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Headers:      h,
			ContentType:  "application/json",
			Body:         m.Body,
		},
	)
}

// consumeOn declares the integration exchange and a durable queue bound to every topic,
// then starts a manual-ack consumer that is cancelled with ctx.
func consumeOn(ctx context.Context, ch *amqp.Channel, queue string) (<-chan amqp.Delivery, error) {
	if err := ch.ExchangeDeclare(integrationExchange, integrationExchangeTy, true, false, false, false, nil); err != nil {
		return nil, err
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}

	if err := ch.QueueBind(queue, "#", integrationExchange, false, nil); err != nil {
		return nil, err
	}

	return ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
}

func fromAMQP(d amqp.Delivery) Delivery {
	h := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprint(v)
		}
	}

	return Delivery{
		RoutingKey:  d.RoutingKey,
		Body:        d.Body,
		Headers:     h,
		Redelivered: d.Redelivered,
		Ack:         func() error { return d.Ack(false) },
		Nack:        func(requeue bool) error { return d.Nack(false, requeue) },
	}
}
