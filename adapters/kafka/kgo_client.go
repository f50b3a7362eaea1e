package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	berr "github.com/next-trace/scg-branch-host/contract/errors"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Config configures the franz-go backed adapter.
type Config struct {
	Brokers  []string
	TLS      *tls.Config
	ClientID string
	// Acks is "all" (default), "leader" or "none". Anything but "all" disables idempotent writes.
	Acks        string
	Compression []kgo.CompressionCodec
	// Topics and Group enable Listen. Group is optional; without it the topics are consumed
	// directly from their end.
	Topics []string
	Group  string
	Logger *slog.Logger
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

type kgoReader struct{ cl *kgo.Client }

func (r kgoReader) Poll(ctx context.Context) ([]Record, error) {
	fetches := r.cl.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, ErrReaderClosed
	}

	var errs []error
	for _, fe := range fetches.Errors() {
		errs = append(errs, fmt.Errorf("fetch %s/%d: %w", fe.Topic, fe.Partition, fe.Err))
	}

	var out []Record

	fetches.EachRecord(func(rec *kgo.Record) { out = append(out, fromKgo(rec)) })

	return out, errors.Join(errs...)
}

func (r kgoReader) Close() { r.cl.Close() }

func fromKgo(rec *kgo.Record) Record {
	h := make(map[string]string, len(rec.Headers))
	for _, kv := range rec.Headers {
		h[kv.Key] = string(kv.Value)
	}

	return Record{Topic: rec.Topic, Key: rec.Key, Value: rec.Value, Headers: h}
}

func clientOpts(cfg Config) ([]kgo.Opt, error) {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	switch strings.ToLower(cfg.Acks) {
	case "", "all":
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case "leader":
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	case "none":
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	default:
		return nil, fmt.Errorf("%w: unknown kafka acks %q", berr.ErrPublishFailed, cfg.Acks)
	}

	if len(cfg.Compression) > 0 {
		opts = append(opts, kgo.ProducerBatchCompression(cfg.Compression...))
	}

	if len(cfg.Topics) > 0 {
		opts = append(opts, kgo.ConsumeTopics(cfg.Topics...))
		if cfg.Group != "" {
			opts = append(opts, kgo.ConsumerGroup(cfg.Group))
		}
	}

	return opts, nil
}

// NewWithKgo builds a franz-go client based Adapter. The returned cleanup should be called to close the client.
func NewWithKgo(cfg Config) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrPublishFailed)
	}

	opts, err := clientOpts(cfg)
	if err != nil {
		return nil, nil, err
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrPublishFailed, err)
	}

	adOpts := []Option{WithLogger(cfg.Logger)}
	if len(cfg.Topics) > 0 {
		adOpts = append(adOpts, WithReader(kgoReader{cl: cl}))
	}

	ad := New(kgoWriter{cl: cl}, adOpts...)
	cleanup := func() { cl.Close() }

	return ad, cleanup, nil
}
