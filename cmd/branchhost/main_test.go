package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/next-trace/scg-branch-host/config"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(t.Context())

	return out.String(), err
}

func TestRoutes_DefaultBranches(t *testing.T) {
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvLogLevel, "off")

	out, err := run(t, "routes")
	if err != nil {
		t.Fatalf("routes: %v", err)
	}

	for _, want := range []string{"endpoint ", "/api ", "endpoint2", "/api2", "demo.Greeting -> *demo.GreetingConsumer"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output misses %q:\n%s", want, out)
		}
	}
}

func TestRoutes_ConfiguredBranches(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "off")

	path := filepath.Join(t.TempDir(), "host.yaml")
	body := "branches:\n  - {name: site, module: identity, paths: [\"/\"], options: {greeting: Hi}}\n"

	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := run(t, "routes", "--config", path)
	if err != nil {
		t.Fatalf("routes: %v", err)
	}

	if !strings.Contains(out, "site") || strings.Contains(out, "endpoint2") {
		t.Fatalf("output:\n%s", out)
	}

	if _, err := run(t, "routes", "--config", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing config must fail")
	}
}

func TestOpenTransport(t *testing.T) {
	tr, err := openTransport(config.TransportConfig{Kind: "Memory"}, nil)
	if err != nil || !tr.listen || tr.kind != config.TransportMemory {
		t.Fatalf("memory transport: %+v %v", tr, err)
	}

	tr.close()

	if _, err := openTransport(config.TransportConfig{Kind: "smoke"}, nil); !errors.Is(err, berr.ErrInvalidConfig) {
		t.Fatalf("unknown kind: %v", err)
	}

	if _, err := openTransport(config.TransportConfig{Kind: config.TransportNATS}, nil); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("nats without url: %v", err)
	}

	if _, err := openTransport(config.TransportConfig{Kind: config.TransportRabbitMQ}, nil); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("rabbitmq without url: %v", err)
	}
}
