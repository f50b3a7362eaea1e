package nats_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/next-trace/scg-branch-host/adapters/nats"
	cbus "github.com/next-trace/scg-branch-host/contract/bus"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

type publishCall struct {
	subject string
	data    []byte
	headers map[string]string
}

type fakeClient struct {
	mu       sync.Mutex
	calls    []publishCall
	handlers map[string]func(nats.Msg)
	queues   map[string]string
	unsubbed []string
	err      error
	subErr   error
}

func (f *fakeClient) Publish(subject string, data []byte, headers map[string]string) error {
	f.calls = append(f.calls, publishCall{subject, data, headers})
	return f.err
}

func (f *fakeClient) Subscribe(subject, queue string, handle func(nats.Msg)) (func() error, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.handlers == nil {
		f.handlers = map[string]func(nats.Msg){}
		f.queues = map[string]string{}
	}

	f.handlers[subject] = handle
	f.queues[subject] = queue

	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.unsubbed = append(f.unsubbed, subject)

		return nil
	}, nil
}

func (f *fakeClient) emit(subject string, m nats.Msg) {
	f.mu.Lock()
	h := f.handlers[subject]
	f.mu.Unlock()

	m.Subject = subject
	h(m)
}

type fakeSink struct {
	names  []string
	bodies []string
	err    error
}

func (s *fakeSink) DeliverEncoded(_ context.Context, name string, body []byte) error {
	s.names = append(s.names, name)
	s.bodies = append(s.bodies, string(body))

	return s.err
}

type integ struct{ T string }

func (i integ) Topic() string { return i.T }

func TestNATS_PublishIntegration(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)

	po := cbus.PublishOptions{TopicOverride: "orders", Key: "k", Headers: map[string]string{"ph": "pv"}}
	if err := ad.PublishIntegration(t.Context(), integ{T: "unused"}, po); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := ad.PublishIntegration(t.Context(), integ{T: "greetings"}, cbus.PublishOptions{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fc.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(fc.calls))
	}

	p := fc.calls[0]
	if p.subject != "orders" || string(p.data) != `{"T":"unused"}` {
		t.Fatalf("publish mismatch: %s %s", p.subject, p.data)
	}

	if p.headers["key"] != "k" || p.headers["ph"] != "pv" || p.headers[cbus.HeaderMessageType] != "nats_test.integ" {
		t.Fatalf("publish headers mismatch: %+v", p.headers)
	}

	if fc.calls[1].subject != "greetings" {
		t.Fatalf("topic mismatch: %s", fc.calls[1].subject)
	}

	if _, leaked := po.Headers[cbus.HeaderMessageType]; leaked {
		t.Fatalf("caller headers must not be mutated")
	}
}

func TestNATS_NilClientError(t *testing.T) {
	ad := nats.New(nil)

	if err := ad.PublishIntegration(t.Context(), integ{T: "t"}, cbus.PublishOptions{}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	if _, err := ad.Listen(t.Context(), &fakeSink{}); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("want ErrSubscribeFailed, got %v", err)
	}
}

func TestNATS_Publish_ErrorWrapping_And_ContextCancel(t *testing.T) {
	fc := &fakeClient{err: errors.New("boom")}
	ad := nats.New(fc)

	if err := ad.PublishIntegration(t.Context(), integ{T: "t"}, cbus.PublishOptions{}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want wrapped ErrPublishFailed, got %v", err)
	}

	fc2 := &fakeClient{err: context.Canceled}
	ad2 := nats.New(fc2)

	err := ad2.PublishIntegration(t.Context(), integ{T: "t"}, cbus.PublishOptions{})
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want bare context.Canceled, got %v", err)
	}
}

func TestNATS_ListenDeliversByTypeHeader(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc, nats.WithSubjects("greetings", "orders"), nats.WithQueueGroup("host"))
	sink := &fakeSink{}

	stop, err := ad.Listen(t.Context(), sink)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	if fc.queues["greetings"] != "host" {
		t.Fatalf("queue group not applied: %v", fc.queues)
	}

	fc.emit("greetings", nats.Msg{
		Data:    []byte(`{"T":"x"}`),
		Headers: map[string]string{cbus.HeaderMessageType: "demo.Greeting"},
	})
	fc.emit("orders", nats.Msg{Data: []byte(`{}`)})

	sink.err = errors.New("consumer failed")
	fc.emit("orders", nats.Msg{Data: []byte(`{}`), Headers: map[string]string{cbus.HeaderMessageType: "demo.Order"}})

	if len(sink.names) != 2 || sink.names[0] != "demo.Greeting" || sink.bodies[0] != `{"T":"x"}` {
		t.Fatalf("deliveries=%v %v", sink.names, sink.bodies)
	}

	stop()
	stop()

	if len(fc.unsubbed) != 2 {
		t.Fatalf("unsubscribed=%v", fc.unsubbed)
	}
}

func TestNATS_ListenFailures(t *testing.T) {
	if _, err := nats.New(&fakeClient{}).Listen(t.Context(), &fakeSink{}); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("no subjects: want ErrSubscribeFailed, got %v", err)
	}

	fc := &fakeClient{subErr: errors.New("no permission")}

	_, err := nats.New(fc, nats.WithSubjects("a")).Listen(t.Context(), &fakeSink{})
	if !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("subscribe error: want ErrSubscribeFailed, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := nats.New(&fakeClient{}, nats.WithSubjects("a")).Listen(ctx, &fakeSink{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
