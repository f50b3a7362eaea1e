package demo_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/next-trace/scg-branch-host/adapters/inmemory"
	"github.com/next-trace/scg-branch-host/branch"
	"github.com/next-trace/scg-branch-host/config"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
	"github.com/next-trace/scg-branch-host/internal/demo"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func build(t *testing.T, opts ...branch.Option) (*branch.Host, *syncBuffer) {
	t.Helper()

	logs := &syncBuffer{}
	opts = append(opts, branch.WithLogger(slog.New(slog.NewTextHandler(logs, nil))))

	b := branch.NewBuilder(opts...)
	if err := demo.Mount(b, demo.DefaultBranches()); err != nil {
		t.Fatalf("mount: %v", err)
	}

	h, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	t.Cleanup(func() { _ = h.Shutdown(t.Context()) })

	return h, logs
}

func TestIdentity_GreetsEveryBranch(t *testing.T) {
	h, logs := build(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api2/identity", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body)
	}

	var view struct {
		Name  string   `json:"name"`
		Paths []string `json:"paths"`
	}

	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil || view.Name != "endpoint2" || view.Paths[0] != "/api2" {
		t.Fatalf("identity=%+v err=%v", view, err)
	}

	out := logs.String()
	for _, want := range []string{`[endpoint] Hallo from endpoint2`, `[endpoint2] Hallo from endpoint2`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log misses %q:\n%s", want, out)
		}
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown branch path: code=%d", rr.Code)
	}
}

func TestIdentity_GreetingTravelsThroughTransport(t *testing.T) {
	ad := inmemory.New()
	h, logs := build(t, branch.WithEventPublisher(ad))

	stop, err := ad.Listen(t.Context(), h.Bus())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer stop()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/identity", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}

	if got := ad.Published(); len(got) != 1 {
		t.Fatalf("want one integration event, got %d", len(got))
	}

	if !strings.Contains(logs.String(), `[endpoint2] Hallo from endpoint`) {
		t.Fatalf("looped-back greeting not consumed:\n%s", logs.String())
	}
}

func TestModule_OptionsAndUnknownNames(t *testing.T) {
	if _, err := demo.Module("nope", nil); !errors.Is(err, berr.ErrUnknownModule) {
		t.Fatalf("want ErrUnknownModule, got %v", err)
	}

	if _, err := demo.Module("identity", map[string]any{"colour": "red"}); !errors.Is(err, berr.ErrInvalidConfig) {
		t.Fatalf("want ErrInvalidConfig, got %v", err)
	}

	b := branch.NewBuilder()

	err := demo.Mount(b, []config.BranchConfig{{Name: "x", Module: "missing", Paths: []string{"/x"}}})

	var op *berr.OpError
	if !errors.As(err, &op) || op.Branch != "x" {
		t.Fatalf("mount error must name the branch: %v", err)
	}

	if names := demo.Names(); len(names) != 1 || names[0] != "identity" {
		t.Fatalf("names=%v", names)
	}
}
