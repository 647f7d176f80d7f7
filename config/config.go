package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"merger/domain/orderbook"
)

// Exchange is one venue feed. The order of Config.Exchanges is the merge
// precedence: on equal prices the earlier exchange is listed first.
type Exchange struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

type GRPC struct {
	Addr        string        `yaml:"addr"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Reconnect controls how a connector retries after a failed session.
type Reconnect struct {
	Interval       time.Duration `yaml:"interval"`
	MaxFailures    uint32        `yaml:"max_failures"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

type Feed struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

// Broadcast configures the optional Kafka fan-out of merged summaries.
type Broadcast struct {
	Enabled  bool          `yaml:"enabled"`
	Driver   string        `yaml:"driver"`
	Brokers  []string      `yaml:"brokers"`
	Topic    string        `yaml:"topic"`
	Interval time.Duration `yaml:"interval"`
	Backlog  int           `yaml:"backlog"`
}

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
)

type Config struct {
	Pair      string     `yaml:"pair"`
	Depth     int        `yaml:"depth"`
	Exchanges []Exchange `yaml:"exchanges"`
	GRPC      GRPC       `yaml:"grpc"`
	Metrics   Metrics    `yaml:"metrics"`
	Log       Log        `yaml:"log"`
	Reconnect Reconnect  `yaml:"reconnect"`
	Feed      Feed       `yaml:"feed"`
	Broadcast Broadcast  `yaml:"broadcast"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Depth: orderbook.DefaultDepth,
		Exchanges: []Exchange{
			{Name: "bitstamp", URL: "wss://ws.bitstamp.net", Enabled: true},
			{Name: "binance", URL: "wss://stream.binance.com:9443/ws", Enabled: true},
		},
		GRPC:    GRPC{Addr: "[::1]:50051", GracePeriod: 5 * time.Second},
		Metrics: Metrics{Addr: ":9102"},
		Log:     Log{Level: "info", Format: "console"},
		Reconnect: Reconnect{
			Interval:       2 * time.Second,
			MaxFailures:    5,
			BreakerTimeout: 30 * time.Second,
		},
		Feed: Feed{
			HandshakeTimeout: 15 * time.Second,
			ReadTimeout:      60 * time.Second,
			PingInterval:     15 * time.Second,
		},
		Broadcast: Broadcast{
			Driver:   DriverSarama,
			Topic:    "merged-book",
			Interval: 250 * time.Millisecond,
			Backlog:  64,
		},
	}
}

// Load reads a YAML file on top of Default. An empty path yields Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Enabled returns the enabled exchanges in precedence order.
func (c Config) Enabled() []Exchange {
	out := make([]Exchange, 0, len(c.Exchanges))
	for _, e := range c.Exchanges {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Pair) == "" {
		errs = append(errs, errors.New("pair is required"))
	}
	if c.Depth < 1 {
		errs = append(errs, fmt.Errorf("depth must be at least 1, got %d", c.Depth))
	}
	if len(c.Enabled()) == 0 {
		errs = append(errs, errors.New("no exchange enabled"))
	}
	seen := map[string]bool{}
	for _, e := range c.Exchanges {
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("exchange %q listed twice", e.Name))
		}
		seen[e.Name] = true
	}
	if c.GRPC.Addr == "" {
		errs = append(errs, errors.New("grpc.addr is required"))
	}
	if c.Reconnect.Interval <= 0 {
		errs = append(errs, errors.New("reconnect.interval must be positive"))
	}
	if c.Broadcast.Enabled {
		switch c.Broadcast.Driver {
		case DriverSarama, DriverKafkaGo:
		default:
			errs = append(errs, fmt.Errorf("unknown broadcast driver %q", c.Broadcast.Driver))
		}
		if len(c.Broadcast.Brokers) == 0 {
			errs = append(errs, errors.New("broadcast.brokers is required when broadcast is enabled"))
		}
		if c.Broadcast.Topic == "" {
			errs = append(errs, errors.New("broadcast.topic is required when broadcast is enabled"))
		}
	}
	return errors.Join(errs...)
}
