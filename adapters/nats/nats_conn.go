package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
	Subjects      []string
	Queue         string
	Logger        *slog.Logger
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data}

	var h nats.Header
	if len(headers) > 0 {
		h = nats.Header{}
		for k, v := range headers {
			h.Add(k, v)
		}
	}

	msg.Header = h

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) Subscribe(subject, queue string, handle func(Msg)) (func() error, error) {
	cb := func(m *nats.Msg) { handle(fromNATS(m)) }

	var (
		sub *nats.Subscription
		err error
	)

	if queue != "" {
		sub, err = c.nc.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = c.nc.Subscribe(subject, cb)
	}

	if err != nil {
		return nil, err
	}

	return sub.Unsubscribe, nil
}

func fromNATS(m *nats.Msg) Msg {
	out := Msg{Subject: m.Subject, Data: m.Data}
	if len(m.Header) > 0 {
		out.Headers = make(map[string]string, len(m.Header))
		for k := range m.Header {
			out.Headers[k] = m.Header.Get(k)
		}
	}

	return out
}

// NewWithNATS creates a real NATS connection and returns an Adapter and a cleanup.
func NewWithNATS(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrPublishFailed)
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrPublishFailed, err)
	}

	ad := New(natsClient{nc: nc}, WithSubjects(cfg.Subjects...), WithQueueGroup(cfg.Queue), WithLogger(cfg.Logger))
	cleanup := func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return ad, cleanup, nil
}
