package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	berr "github.com/next-trace/scg-branch-host/contract/errors"
	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportMemory   = "memory"
	TransportNATS     = "nats"
	TransportKafka    = "kafka"
	TransportRabbitMQ = "rabbitmq"
)

// Environment variables read by Load.
const (
	EnvConfig    = "SCG_CONFIG"
	EnvHTTPAddr  = "SCG_HTTP_ADDR"
	EnvTransport = "SCG_TRANSPORT"
	EnvLogLevel  = "SCG_LOG_LEVEL"
)

// Config is the host configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Transport TransportConfig `yaml:"transport"`
	Shared    SharedConfig    `yaml:"shared"`
	Branches  []BranchConfig  `yaml:"branches"`
}

// LogConfig selects the log level and handler format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig configures the HTTP front door.
type HTTPConfig struct {
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TransportConfig selects the integration event transport. Only the section matching
// Kind is used.
type TransportConfig struct {
	Kind     string         `yaml:"kind"`
	NATS     NATSConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

type NATSConfig struct {
	URL      string   `yaml:"url"`
	Name     string   `yaml:"name"`
	Subjects []string `yaml:"subjects"`
	Queue    string   `yaml:"queue"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topics   []string `yaml:"topics"`
	Group    string   `yaml:"group"`
	ClientID string   `yaml:"client_id"`
	Acks     string   `yaml:"acks"`
}

type RabbitMQConfig struct {
	URL         string        `yaml:"url"`
	Queue       string        `yaml:"queue"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

// SharedConfig controls shared service forwarding.
type SharedConfig struct {
	// Strict fails startup when a shared type has no root registration.
	Strict bool `yaml:"strict"`
}

// BranchConfig mounts a named module at one or more paths. Options are decoded by the
// module itself, see DecodeOptions.
type BranchConfig struct {
	Name    string         `yaml:"name"`
	Module  string         `yaml:"module"`
	Paths   []string       `yaml:"paths"`
	Options map[string]any `yaml:"options"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "text"},
		HTTP:      HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Transport: TransportConfig{Kind: TransportMemory},
	}
}

// Load reads path, or the file named by SCG_CONFIG when path is empty, applies the
// environment overrides and validates the result. No file at all yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	cfg.applyEnvironment()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}

	if v := os.Getenv(EnvTransport); v != "" {
		c.Transport.Kind = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the configuration for errors. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error

	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{berr.ErrInvalidConfig}, args...)...))
	}

	if c.HTTP.Addr == "" {
		invalid("http.addr is required")
	}

	if _, ok := parseLevel(c.Log.Level); !ok {
		invalid("log.level %q is not one of trace, debug, info, warn, error, off", c.Log.Level)
	}

	if f := strings.ToLower(c.Log.Format); f != "" && f != "text" && f != "json" {
		invalid("log.format %q must be text or json", c.Log.Format)
	}

	t := c.Transport
	switch strings.ToLower(t.Kind) {
	case TransportMemory:
	case TransportNATS:
		if t.NATS.URL == "" {
			invalid("transport.nats.url is required")
		}
	case TransportKafka:
		if len(t.Kafka.Brokers) == 0 {
			invalid("transport.kafka.brokers is required")
		}
	case TransportRabbitMQ:
		if t.RabbitMQ.URL == "" {
			invalid("transport.rabbitmq.url is required")
		}
	default:
		invalid("transport.kind %q must be one of memory, nats, kafka, rabbitmq", t.Kind)
	}

	for i, b := range c.Branches {
		if b.Name == "" || b.Module == "" || len(b.Paths) == 0 {
			invalid("branches[%d] needs a name, a module and at least one path", i)
		}
	}

	return errors.Join(errs...)
}
