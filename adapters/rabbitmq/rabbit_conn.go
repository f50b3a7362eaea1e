package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	berr "github.com/next-trace/scg-branch-host/contract/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Concrete AMQP connection-backed constructor with auto-reconnect.

type Config struct {
	URL         string
	ConnTimeout time.Duration
	// Queue enables Listen: a durable queue bound to every integration topic.
	Queue  string
	Logger *slog.Logger
}

type reconnectingConn struct {
	cfg    Config
	logger *slog.Logger
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed while a channel is available
}

func newReconnectingConn(cfg Config) (*reconnectingConn, func()) {
	rc := &reconnectingConn{
		cfg:    cfg,
		logger: cfg.Logger,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}

	if rc.logger == nil {
		rc.logger = slog.New(slog.DiscardHandler)
	}

	go rc.run()

	cleanup := func() { rc.close() }

	return rc, cleanup
}

// channel returns the current channel, waiting for a reconnect when there is none.
func (rc *reconnectingConn) channel(ctx context.Context) (*amqp.Channel, error) {
	for {
		rc.mu.RLock()
		ch, ready := rc.ch, rc.ready
		rc.mu.RUnlock()

		if ch != nil {
			return ch, nil
		}

		select {
		case <-ready:
		case <-rc.closed:
			return nil, fmt.Errorf("%w: rabbitmq connection closed", berr.ErrPublishFailed)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (rc *reconnectingConn) Publish(ctx context.Context, m PubMsg) error {
	ch, err := rc.channel(ctx)
	if err != nil {
		return err
	}

	return publishOn(ctx, ch, m)
}

// Consume keeps a consumer running across reconnects until ctx is done or stop is called.
func (rc *reconnectingConn) Consume(ctx context.Context, handle func(Delivery)) (func() error, error) {
	if rc.cfg.Queue == "" {
		return nil, fmt.Errorf("%w: rabbitmq queue required", berr.ErrSubscribeFailed)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		for ctx.Err() == nil {
			ch, err := rc.channel(ctx)
			if err != nil {
				return
			}

			deliveries, err := consumeOn(ctx, ch, rc.cfg.Queue)
			if err != nil {
				rc.logger.WarnContext(ctx, "rabbitmq consume failed", "queue", rc.cfg.Queue, "err", err)
				sleep(ctx, time.Second)

				continue
			}

			for d := range deliveries {
				handle(fromAMQP(d))
			}
		}
	}()

	return func() error {
		cancel()
		<-done

		return nil
	}, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (rc *reconnectingConn) run() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	reconnect := func() (*amqp.Connection, *amqp.Channel, error) {
		conn, err := amqp.DialConfig(rc.cfg.URL, amqp.Config{
			Locale:     "en_US",
			Properties: amqp.Table{"product": "scg-branch-host"},
			Dial:       amqp.DefaultDial(rc.cfg.ConnTimeout),
		})
		if err != nil {
			return nil, nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}

		if err := ch.ExchangeDeclare(
			integrationExchange,
			integrationExchangeTy,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			_ = ch.Close()
			_ = conn.Close()

			return nil, nil, err
		}

		return conn, ch, nil
	}

	for {
		select {
		case <-rc.closed:
			return
		default:
		}

		conn, ch, err := reconnect()
		if err != nil {
			rc.logger.Warn("rabbitmq dial failed", "backoff", backoff, "err", err)

			// exponential backoff with jitter
			jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
			wait := min(backoff+jitter/2, maxBackoff)

			t := time.NewTimer(wait)
			select {
			case <-rc.closed:
				t.Stop()
				return
			case <-t.C:
			}

			backoff = min(backoff*2, maxBackoff)

			continue
		}

		backoff = time.Second

		rc.mu.Lock()
		rc.conn = conn
		rc.ch = ch
		close(rc.ready)
		rc.mu.Unlock()

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-rc.closed:
			return
		case <-notify:
			rc.mu.Lock()
			rc.conn, rc.ch = nil, nil
			rc.ready = make(chan struct{})
			rc.mu.Unlock()

			_ = ch.Close()
			_ = conn.Close()
		}
	}
}

func (rc *reconnectingConn) close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	select {
	case <-rc.closed:
		return
	default:
		close(rc.closed)
	}

	if rc.ch != nil {
		_ = rc.ch.Close()
		rc.ch = nil
	}

	if rc.conn != nil {
		_ = rc.conn.Close()
		rc.conn = nil
	}
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, ensures the integration exchange, and returns
// the Adapter and a cleanup. A non-empty cfg.Queue enables Listen.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrPublishFailed)
	}

	rc, cleanup := newReconnectingConn(cfg)

	opts := []Option{WithLogger(cfg.Logger)}
	if cfg.Queue != "" {
		opts = append(opts, WithConsumer(rc))
	}

	return New(rc, opts...), cleanup, nil
}
