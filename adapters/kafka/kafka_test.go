package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/next-trace/scg-branch-host/adapters/kafka"
	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

type call struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeWriter struct {
	calls []call
	err   error
}

func (f *fakeWriter) Write(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.calls = append(f.calls, call{topic, key, value, headers})

	return f.err
}

type fakeReader struct {
	batches chan []kafka.Record
	closed  chan struct{}
	once    sync.Once
}

func newFakeReader() *fakeReader {
	return &fakeReader{batches: make(chan []kafka.Record, 4), closed: make(chan struct{})}
}

func (r *fakeReader) Poll(ctx context.Context) ([]kafka.Record, error) {
	select {
	case b := <-r.batches:
		return b, nil
	case <-r.closed:
		return nil, kafka.ErrReaderClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *fakeReader) Close() { r.once.Do(func() { close(r.closed) }) }

type sink struct {
	mu    sync.Mutex
	names []string
	got   chan struct{}
	err   error
}

func (s *sink) DeliverEncoded(_ context.Context, name string, _ []byte) error {
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
	s.got <- struct{}{}

	return s.err
}

type ev struct{ Name string }

func (ev) Topic() string { return "evt.orders" }

func TestKafka_PublishIntegration(t *testing.T) {
	fw := &fakeWriter{}
	ad := kafka.New(fw)

	po := cbus.PublishOptions{TopicOverride: "evt.override", Key: "key1", Headers: map[string]string{"ph": "pv"}}
	if err := ad.PublishIntegration(t.Context(), ev{Name: "E"}, po); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := ad.PublishIntegration(t.Context(), &ev{Name: "P"}, cbus.PublishOptions{}); err != nil {
		t.Fatalf("publish pointer: %v", err)
	}

	if len(fw.calls) != 2 {
		t.Fatalf("want 2, got %d", len(fw.calls))
	}

	p := fw.calls[0]
	if p.topic != "evt.override" || string(p.key) != "key1" || p.headers["ph"] != "pv" {
		t.Fatalf("publish call: %+v", p)
	}

	if p.headers[cbus.HeaderMessageType] != "kafka_test.ev" {
		t.Fatalf("type header: %q", p.headers[cbus.HeaderMessageType])
	}

	var body ev
	if err := json.Unmarshal(p.value, &body); err != nil || body.Name != "E" {
		t.Fatalf("payload: %s %v", p.value, err)
	}

	if fw.calls[1].topic != "evt.orders" || fw.calls[1].headers[cbus.HeaderMessageType] != "kafka_test.ev" {
		t.Fatalf("default topic call: %+v", fw.calls[1])
	}
}

func TestKafka_PublishErrors(t *testing.T) {
	if err := kafka.New(nil).PublishIntegration(t.Context(), ev{}, cbus.PublishOptions{}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("nil writer: %v", err)
	}

	boom := errors.New("broker down")

	err := kafka.New(&fakeWriter{err: boom}).PublishIntegration(t.Context(), ev{}, cbus.PublishOptions{})
	if !errors.Is(err, berr.ErrPublishFailed) || !errors.Is(err, boom) {
		t.Fatalf("write error: %v", err)
	}

	err = kafka.New(&fakeWriter{err: context.DeadlineExceeded}).PublishIntegration(t.Context(), ev{}, cbus.PublishOptions{})
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("context errors pass through: %v", err)
	}
}

func TestKafka_ListenDeliversTypedRecords(t *testing.T) {
	r := newFakeReader()
	ad := kafka.New(&fakeWriter{}, kafka.WithReader(r))
	s := &sink{got: make(chan struct{}, 4)}

	stop, err := ad.Listen(t.Context(), s)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	r.batches <- []kafka.Record{
		{Topic: "t", Value: []byte(`{}`)},
		{Topic: "t", Value: []byte(`{}`), Headers: map[string]string{cbus.HeaderMessageType: "demo.Greeting"}},
	}

	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("record not delivered")
	}

	stop()
	stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.names) != 1 || s.names[0] != "demo.Greeting" {
		t.Fatalf("delivered=%v", s.names)
	}
}

func TestKafka_ListenStopsWhenReaderCloses(t *testing.T) {
	r := newFakeReader()
	ad := kafka.New(&fakeWriter{}, kafka.WithReader(r))

	stop, err := ad.Listen(t.Context(), &sink{got: make(chan struct{}, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ad.Close()
	stop()
}

func TestKafka_ListenRequiresReaderAndSink(t *testing.T) {
	if _, err := kafka.New(&fakeWriter{}).Listen(t.Context(), &sink{}); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("no reader: %v", err)
	}

	if _, err := kafka.New(&fakeWriter{}, kafka.WithReader(newFakeReader())).Listen(t.Context(), nil); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("no sink: %v", err)
	}
}

func TestNewWithKgo_RequiresBrokers(t *testing.T) {
	if _, _, err := kafka.NewWithKgo(kafka.Config{}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	if _, _, err := kafka.NewWithKgo(kafka.Config{Brokers: []string{"localhost:9092"}, Acks: "some"}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("unknown acks: %v", err)
	}
}

type brokenReader struct{ polls atomic.Int32 }

func (r *brokenReader) Poll(context.Context) ([]kafka.Record, error) {
	r.polls.Add(1)
	return nil, errors.New("broker unreachable")
}

func (r *brokenReader) Close() {}

func TestKafka_ListenBacksOffOnPollErrors(t *testing.T) {
	r := &brokenReader{}
	ad := kafka.New(&fakeWriter{}, kafka.WithReader(r), kafka.WithRetryBackoff(20*time.Millisecond))

	stop, err := ad.Listen(t.Context(), &sink{got: make(chan struct{}, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	begin := time.Now()
	stop()

	if waited := time.Since(begin); waited > 50*time.Millisecond {
		t.Fatalf("stop waited %s for the backoff to expire", waited)
	}

	// 20ms, 40ms, 80ms pauses fit at most a handful of polls into 100ms.
	if n := r.polls.Load(); n < 2 || n > 6 {
		t.Fatalf("polls=%d, want a few backed off retries", n)
	}
}
