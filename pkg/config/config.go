package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"SignalFuse/internal/domain/models"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Logging struct {
		Level         string        `yaml:"level" default:"info"`
		Format        string        `yaml:"format" default:"json"`
		Output        string        `yaml:"output" default:"stdout"`
		CollectTopic  string        `yaml:"collect_topic"`
		CollectPeriod time.Duration `yaml:"collect_period" default:"30s"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Feed       FeedConfig       `yaml:"feed"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Indicators IndicatorsConfig `yaml:"indicators"`
	Activity   ActivityConfig   `yaml:"activity"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Kafka      struct {
		Brokers          []string `yaml:"brokers"`
		RequiredAcks     int      `yaml:"required_acks" default:"1"`
		Compression      string   `yaml:"compression" default:"snappy"`
		AutoCreateTopics bool     `yaml:"auto_create_topics"`
		Topics           struct {
			Movements     string `yaml:"movements" default:"signalfuse.movements"`
			Registrations string `yaml:"registrations" default:"signalfuse.registrations"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"signalfuse"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"100"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signalfuse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"signalfuse"`
	} `yaml:"redis"`
}

// FeedConfig configures the upstream market feed socket.
type FeedConfig struct {
	URL            string             `yaml:"url" default:"wss://ws-subscriptions-clob.polymarket.com/ws/market"`
	PingInterval   time.Duration      `yaml:"ping_interval" default:"30s"`
	ReconnectDelay time.Duration      `yaml:"reconnect_delay" default:"5s"`
	Instruments    []InstrumentConfig `yaml:"instruments"`
}

// InstrumentConfig seeds one instrument. Price is the initial cached price.
type InstrumentConfig struct {
	ID       string  `yaml:"id"`
	Symbol   string  `yaml:"symbol"`
	Question string  `yaml:"question"`
	Price    float64 `yaml:"price"`
}

type CatalogConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url" default:"https://clob.polymarket.com"`
	Limit       int           `yaml:"limit" default:"20"`
	MarketsTTL  time.Duration `yaml:"markets_ttl" default:"60s"`
	HistoryTTL  time.Duration `yaml:"history_ttl" default:"10m"`
	RateLimit   time.Duration `yaml:"rate_limit" default:"1s"`
	HTTPTimeout time.Duration `yaml:"http_timeout" default:"10s"`
}

// OracleConfig configures the confidence poller. Thresholds are empirical.
type OracleConfig struct {
	URL           string        `yaml:"url" default:"https://hermes.pyth.network"`
	PollInterval  time.Duration `yaml:"poll_interval" default:"3s"`
	Timeout       time.Duration `yaml:"timeout" default:"5s"`
	Window        int           `yaml:"window" default:"60"`
	Baseline      int           `yaml:"baseline" default:"10"`
	AnomalyDrop   float64       `yaml:"anomaly_drop" default:"15"`
	CriticalBelow float64       `yaml:"critical_below" default:"30"`
	Feeds         []OracleFeed  `yaml:"feeds"`
}

type OracleFeed struct {
	ID     string `yaml:"id"`
	Symbol string `yaml:"symbol"`
}

type IndicatorsConfig struct {
	History int `yaml:"history" default:"120"`
}

type ActivityConfig struct {
	URL               string  `yaml:"url" default:"wss://api.devnet.solana.com"`
	Commitment        string  `yaml:"commitment" default:"confirmed"`
	PlaceholderAmount float64 `yaml:"placeholder_amount" default:"1.5"`
	Token             string  `yaml:"token" default:"SOL"`
	Tracked           []struct {
		Address        string `yaml:"address"`
		CorrelationKey string `yaml:"correlation_key"`
	} `yaml:"tracked"`
}

// RecorderConfig selects where movements are recorded besides the in-memory ledger.
type RecorderConfig struct {
	Backend    string        `yaml:"backend" default:"none"` // kafka, clickhouse or none
	BufferSize int           `yaml:"buffer_size" default:"1024"`
	MaxRPS     int           `yaml:"max_rps" default:"20"`
	Timeout    time.Duration `yaml:"timeout" default:"5s"`
}

type FusionConfig struct {
	Keywords         map[string][]string `yaml:"keywords"`
	SubscriberBuffer int                 `yaml:"subscriber_buffer" default:"64"`
	RedisChannel     string              `yaml:"redis_channel" default:"signalfuse:updates"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, decodes YAML over them and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.fillDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads a .env file when present, then the YAML config, then
// applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides selected fields from the process environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("FEED_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv("ORACLE_URL"); v != "" {
		c.Oracle.URL = v
	}
	if v := os.Getenv("SOLANA_WS_URL"); v != "" {
		c.Activity.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("RECORDER_BACKEND"); v != "" {
		c.Recorder.Backend = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

// SeedInstruments converts the configured instruments for the market table.
func (c *Config) SeedInstruments() []models.Instrument {
	out := make([]models.Instrument, 0, len(c.Feed.Instruments))
	for _, in := range c.Feed.Instruments {
		out = append(out, models.Instrument{ID: in.ID, Symbol: in.Symbol, Question: in.Question, LastPrice: in.Price})
	}
	return out
}

// DefaultOracleFeeds are the Pyth price feed ids for the majors.
var DefaultOracleFeeds = []OracleFeed{
	{ID: "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43", Symbol: "BTC/USD"},
	{ID: "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace", Symbol: "ETH/USD"},
	{ID: "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d", Symbol: "SOL/USD"},
}

func (c *Config) fillDefaults() {
	if len(c.Oracle.Feeds) == 0 {
		c.Oracle.Feeds = append([]OracleFeed(nil), DefaultOracleFeeds...)
	}
	if len(c.Fusion.Keywords) == 0 {
		c.Fusion.Keywords = map[string][]string{
			"BTC": {"Bitcoin", "BTC"},
			"ETH": {"Ethereum", "Ether", "ETH"},
			"SOL": {"Solana", "SOL"},
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Recorder.Backend {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required for recorder.backend 'kafka'")
		}
	case "clickhouse", "none":
	default:
		return fmt.Errorf("recorder.backend must be 'kafka', 'clickhouse' or 'none', got '%s'", c.Recorder.Backend)
	}
	if c.Kafka.Consumer.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka.consumer is enabled")
	}
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.PingInterval <= 0 || c.Feed.ReconnectDelay <= 0 {
		return fmt.Errorf("feed.ping_interval and feed.reconnect_delay must be positive")
	}
	for i, in := range c.Feed.Instruments {
		if in.ID == "" {
			return fmt.Errorf("feed.instruments[%d].id is required", i)
		}
	}
	if c.Oracle.Window < 1 {
		return fmt.Errorf("oracle.window must be >= 1")
	}
	if c.Oracle.Baseline < 1 || c.Oracle.Baseline > c.Oracle.Window {
		return fmt.Errorf("oracle.baseline must be between 1 and oracle.window")
	}
	if c.Oracle.PollInterval <= 0 {
		return fmt.Errorf("oracle.poll_interval must be positive")
	}
	for i, f := range c.Oracle.Feeds {
		if f.ID == "" || f.Symbol == "" {
			return fmt.Errorf("oracle.feeds[%d] needs id and symbol", i)
		}
	}
	if c.Indicators.History < 30 {
		return fmt.Errorf("indicators.history must be >= 30")
	}
	if c.Fusion.SubscriberBuffer < 1 {
		return fmt.Errorf("fusion.subscriber_buffer must be >= 1")
	}
	return nil
}
