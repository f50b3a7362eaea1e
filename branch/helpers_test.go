package branch_test

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/next-trace/scg-branch-host/branch"
	"github.com/next-trace/scg-branch-host/container"
)

// echoPath writes the branch, mount prefix and remainder of every request it handles.
func echoPath() branch.Module {
	return branch.ModuleFuncs{
		Handlers: func(cb *branch.ChainBuilder) error {
			cb.Handle(func(_ context.Context, ex *branch.Exchange) error {
				if ex.Writer != nil {
					_, _ = io.WriteString(ex.Writer, ex.Branch+" "+ex.PathBase+" "+ex.Path)
				}

				return nil
			})

			return nil
		},
	}
}

type closeCounter struct{ n atomic.Int32 }

type requestState struct {
	closes *closeCounter
	owner  *branch.Exchange
}

func (s *requestState) Close() error {
	s.closes.n.Add(1)
	return nil
}

type recorder struct {
	mu   sync.Mutex
	seen map[string][]string
}

func newRecorder() *recorder { return &recorder{seen: map[string][]string{}} }

func (r *recorder) record(branch, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seen[branch] = append(r.seen[branch], text)
}

func (r *recorder) texts(branch string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.seen[branch]...)
}

type greeting struct{ Text string }

type greetConsumer struct {
	id  branch.Identity
	rec *recorder
}

func newGreetConsumer(id branch.Identity, rec *recorder) *greetConsumer {
	return &greetConsumer{id: id, rec: rec}
}

func (c *greetConsumer) Consume(_ context.Context, g greeting) error {
	c.rec.record(c.id.Name, g.Text)
	return nil
}

func mustLookup(h *branch.Host, name string) *container.Container {
	c, ok := h.Bridge().Lookup(name)
	if !ok {
		panic("branch not published: " + name)
	}

	return c
}
