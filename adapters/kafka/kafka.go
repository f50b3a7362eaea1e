package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Record is a consumed Kafka record.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Writer is a minimal Kafka-like writer interface.
// Users can adapt franz-go, segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Reader is a minimal Kafka-like consumer. Poll blocks until records are available, ctx is
// done, or the reader is closed, in which case it returns ErrReaderClosed.
type Reader interface {
	Poll(ctx context.Context) ([]Record, error)
	Close()
}

// ErrReaderClosed is returned by Reader.Poll after Close.
var ErrReaderClosed = errors.New("kafka reader closed")

// Adapter implements cbus.Adapter using an injected Writer and an optional Reader.
type Adapter struct {
	Writer Writer
	Reader Reader
	Logger *slog.Logger

	// RetryBackoff is the first pause after a failed poll. It doubles on consecutive
	// failures up to maxRetryBackoff and resets once a poll succeeds.
	RetryBackoff time.Duration
}

const (
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff     = 5 * time.Second
)

var _ cbus.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithReader sets the reader Listen consumes from.
func WithReader(r Reader) Option { return func(a *Adapter) { a.Reader = r } }

// WithLogger sets the logger used for delivery and poll failures.
func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.Logger = l } }

// WithRetryBackoff sets the first pause after a failed poll.
func WithRetryBackoff(d time.Duration) Option { return func(a *Adapter) { a.RetryBackoff = d } }

// New creates a new Kafka adapter instance with the provided writer.
func New(w Writer, opts ...Option) *Adapter {
	a := &Adapter{Writer: w}
	for _, o := range opts {
		o(a)
	}

	if a.Logger == nil {
		a.Logger = slog.New(slog.DiscardHandler)
	}

	if a.RetryBackoff <= 0 {
		a.RetryBackoff = defaultRetryBackoff
	}

	return a
}

func (a *Adapter) PublishIntegration(ctx context.Context, e cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka publish: %w", berr.ErrPublishFailed)
	}

	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka publish serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	topic := topicForEvent(e, opts)

	if err = a.Writer.Write(ctx, topic, []byte(opts.Key), val, publishHeaders(e, opts)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka publish write %q: %w", topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// Listen polls the reader in a background goroutine and delivers every record carrying a
// message type header into sink. The returned stop cancels polling and waits for the loop
// to exit. Records are committed by the reader's own policy; delivery failures are logged.
func (a *Adapter) Listen(ctx context.Context, sink cbus.Inbound) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Reader == nil || sink == nil {
		return nil, fmt.Errorf("kafka listen: %w: reader and sink are required", berr.ErrSubscribeFailed)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		a.poll(ctx, sink)
	}()

	stop := sync.OnceFunc(func() {
		cancel()
		<-done
	})

	return stop, nil
}

func (a *Adapter) poll(ctx context.Context, sink cbus.Inbound) {
	var backoff time.Duration

	for {
		recs, err := a.Reader.Poll(ctx)

		switch {
		case ctx.Err() != nil, errors.Is(err, ErrReaderClosed):
			return
		case err != nil:
			backoff = nextBackoff(backoff, a.RetryBackoff)
			a.Logger.WarnContext(ctx, "kafka poll failed", "err", err, "retry_in", backoff)
		default:
			backoff = 0
		}

		for _, r := range recs {
			a.deliver(ctx, sink, r)
		}

		if backoff > 0 && len(recs) == 0 && !sleep(ctx, backoff) {
			return
		}
	}
}

func nextBackoff(cur, base time.Duration) time.Duration {
	if base <= 0 {
		base = defaultRetryBackoff
	}

	if cur == 0 {
		return base
	}

	return min(cur*2, maxRetryBackoff)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (a *Adapter) deliver(ctx context.Context, sink cbus.Inbound, r Record) {
	name := r.Headers[cbus.HeaderMessageType]
	if name == "" {
		a.Logger.WarnContext(ctx, "kafka record without type header dropped", "topic", r.Topic)
		return
	}

	if err := sink.DeliverEncoded(ctx, name, r.Value); err != nil {
		a.Logger.WarnContext(ctx, "kafka delivery failed", "topic", r.Topic, "message", name, "err", err)
	}
}

// Close closes the reader, if any.
func (a *Adapter) Close() {
	if a.Reader != nil {
		a.Reader.Close()
	}
}

// helpers

func topicForEvent(e cbus.IntegrationEvent, o cbus.PublishOptions) string {
	if o.TopicOverride != "" {
		return o.TopicOverride
	}

	return e.Topic()
}

func publishHeaders(e cbus.IntegrationEvent, o cbus.PublishOptions) map[string]string {
	h := make(map[string]string, len(o.Headers)+1)
	maps.Copy(h, o.Headers)

	if _, ok := h[cbus.HeaderMessageType]; !ok {
		h[cbus.HeaderMessageType] = cbus.MessageName(e)
	}

	return h
}
