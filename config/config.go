package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-marketstream-sync/domain"
	"gopkg.in/yaml.v3"
)

type StreamConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReconnectMin     time.Duration `yaml:"reconnect_min"`
	ReconnectMax     time.Duration `yaml:"reconnect_max"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`

	// Zero redials forever.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

type EngineConfig struct {
	MaxLevelsPerSide int `yaml:"max_levels_per_side"`
	MaxCandles       int `yaml:"max_candles"`
	TradeTapeSize    int `yaml:"trade_tape_size"`
	EventBuffer      int `yaml:"event_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type RPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type NatsConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PriceHistorySubscription struct {
	OrderbookID   string `yaml:"orderbook_id"`
	Resolution    string `yaml:"resolution"`
	IncludeDetail bool   `yaml:"include_ohlcv"`
}

type SubscriptionsConfig struct {
	BookUpdates  []string                   `yaml:"book_updates"`
	Trades       []string                   `yaml:"trades"`
	User         string                     `yaml:"user"`
	PriceHistory []PriceHistorySubscription `yaml:"price_history"`
	Markets      []string                   `yaml:"markets"`
}

type Config struct {
	Debug         bool                `yaml:"debug"`
	Stream        StreamConfig        `yaml:"stream"`
	Engine        EngineConfig        `yaml:"engine"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	RPC           RPCConfig           `yaml:"rpc"`
	Nats          NatsConfig          `yaml:"nats"`
	Log           LogConfig           `yaml:"log"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
}

func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			URL:              "wss://tws.lightcone.xyz/ws",
			HandshakeTimeout: 5 * time.Second,
			ReconnectMin:     time.Second,
			ReconnectMax:     30 * time.Second,
			PingInterval:     30 * time.Second,
			PongTimeout:      10 * time.Second,

			MaxReconnectAttempts: 10,
		},
		Engine: EngineConfig{
			MaxLevelsPerSide: domain.DefaultMaxLevelsPerSide,
			MaxCandles:       domain.DefaultMaxCandles,
			TradeTapeSize:    domain.DefaultTradeTapeSize,
			EventBuffer:      1024,
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":8080"},
		RPC:     RPCConfig{Enabled: true, Addr: ":50051"},
		Nats:    NatsConfig{SubjectPrefix: "marketstream"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads defaults, then the YAML file at path (optional when empty), then
// .env, then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setString("STREAM_URL", &c.Stream.URL)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)
	setString("METRICS_ADDR", &c.Metrics.Addr)
	setString("GRPC_ADDR", &c.RPC.Addr)
	setString("NATS_URL", &c.Nats.URL)
	setString("NATS_SUBJECT_PREFIX", &c.Nats.SubjectPrefix)

	if v, ok := os.LookupEnv("DEBUG"); ok {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG value %q: %w", v, err)
		}
		c.Debug = debug
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Stream.URL == "" {
		return fmt.Errorf("stream url cannot be empty")
	}
	if c.Stream.ReconnectMin <= 0 || c.Stream.ReconnectMax < c.Stream.ReconnectMin {
		return fmt.Errorf("invalid reconnect interval %s..%s", c.Stream.ReconnectMin, c.Stream.ReconnectMax)
	}
	if c.Stream.PingInterval < 0 || c.Stream.PongTimeout < 0 {
		return fmt.Errorf("ping interval and pong timeout cannot be negative")
	}
	if c.Stream.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts cannot be negative")
	}

	if c.Engine.MaxLevelsPerSide <= 0 {
		return fmt.Errorf("max levels per side must be greater than 0")
	}
	if c.Engine.MaxCandles <= 0 {
		return fmt.Errorf("max candles must be greater than 0")
	}
	if c.Engine.TradeTapeSize <= 0 {
		return fmt.Errorf("trade tape size must be greater than 0")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format %q (must be text or json)", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address cannot be empty")
	}
	if c.RPC.Enabled && c.RPC.Addr == "" {
		return fmt.Errorf("grpc address cannot be empty")
	}
	if c.Nats.URL != "" && c.Nats.SubjectPrefix == "" {
		return fmt.Errorf("nats subject prefix cannot be empty")
	}

	for i, ph := range c.Subscriptions.PriceHistory {
		if ph.OrderbookID == "" {
			return fmt.Errorf("price history subscription %d must have an orderbook id", i)
		}
		if _, err := domain.ParseResolution(ph.Resolution); err != nil {
			return fmt.Errorf("price history subscription %d: %w", i, err)
		}
	}

	return nil
}

// ConfigureLogger applies the log section to the standard logrus logger.
func (c *Config) ConfigureLogger() {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if c.Debug {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if c.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
