package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/next-trace/scg-branch-host/adapters/inmemory"
	"github.com/next-trace/scg-branch-host/adapters/kafka"
	"github.com/next-trace/scg-branch-host/adapters/nats"
	"github.com/next-trace/scg-branch-host/adapters/rabbitmq"
	"github.com/next-trace/scg-branch-host/config"
	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

type transport struct {
	kind    string
	adapter cbus.Adapter
	// listen is set when the transport is configured to receive as well as publish.
	listen bool
	close  func()
}

func openTransport(cfg config.TransportConfig, logger *slog.Logger) (*transport, error) {
	kind := strings.ToLower(cfg.Kind)

	var (
		ad      cbus.Adapter
		cleanup func()
		listen  bool
		err     error
	)

	switch kind {
	case config.TransportMemory:
		ad, cleanup, listen = inmemory.New(), func() {}, true
	case config.TransportNATS:
		ad, cleanup, err = nats.NewWithNATS(nats.Config{
			URL:      cfg.NATS.URL,
			Name:     cfg.NATS.Name,
			Subjects: cfg.NATS.Subjects,
			Queue:    cfg.NATS.Queue,
			Logger:   logger,
		})
		listen = len(cfg.NATS.Subjects) > 0
	case config.TransportKafka:
		ad, cleanup, err = kafka.NewWithKgo(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Acks:     cfg.Kafka.Acks,
			Topics:   cfg.Kafka.Topics,
			Group:    cfg.Kafka.Group,
			Logger:   logger,
		})
		listen = len(cfg.Kafka.Topics) > 0
	case config.TransportRabbitMQ:
		ad, cleanup, err = rabbitmq.NewWithAMQPConn(rabbitmq.Config{
			URL:         cfg.RabbitMQ.URL,
			ConnTimeout: cfg.RabbitMQ.ConnTimeout,
			Queue:       cfg.RabbitMQ.Queue,
			Logger:      logger,
		})
		listen = cfg.RabbitMQ.Queue != ""
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", berr.ErrInvalidConfig, cfg.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("open %s transport: %w", kind, err)
	}

	return &transport{kind: kind, adapter: ad, listen: listen, close: cleanup}, nil
}
