package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"BotArena/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RiskProfile holds dollar ceilings for one trading mode.
type RiskProfile struct {
	PerTrade       float64 `yaml:"per_trade" validate:"gte=0"`
	BotDailyLoss   float64 `yaml:"bot_daily_loss" validate:"gte=0"`
	ArenaDailyLoss float64 `yaml:"arena_daily_loss" validate:"gte=0"`
	MinStake       float64 `yaml:"min_stake" validate:"gte=0"`
	MaxStake       float64 `yaml:"max_stake" validate:"gte=0"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Arena struct {
		Population        int           `yaml:"population" default:"4" validate:"eq=4"`
		Survivors         int           `yaml:"survivors" default:"2" validate:"gte=1,ltfield=Population"`
		WindowLength      time.Duration `yaml:"window_length" default:"5m"`
		PollInterval      time.Duration `yaml:"poll_interval" default:"15s"`
		SettlementPoll    time.Duration `yaml:"settlement_poll" default:"10s"`
		DecisionOffset    time.Duration `yaml:"decision_offset" default:"30s"`
		EvolutionInterval time.Duration `yaml:"evolution_interval" default:"12h"`
		EvolutionLockTTL  time.Duration `yaml:"evolution_lock_ttl" default:"5m"`
		SnapshotInterval  time.Duration `yaml:"snapshot_interval" default:"30s"`
		BestParentWeight  float64       `yaml:"best_parent_weight" default:"0.67" validate:"gte=0,lte=1"`
		MutationSigma     float64       `yaml:"mutation_sigma" default:"0.15" validate:"gte=0"`
		Seed              int64         `yaml:"seed"`
		InitialEquity     float64       `yaml:"initial_equity" default:"1000" validate:"gt=0"`
	} `yaml:"arena"`
	Learning struct {
		PriceBounds    []float64 `yaml:"price_bounds" default:"[-1.0,1.0]"`
		MomentumBounds []float64 `yaml:"momentum_bounds" default:"[-0.001,0.001]"`
	} `yaml:"learning"`
	Features struct {
		Window          int           `yaml:"window" default:"60" validate:"gte=2"`
		ShortWindow     int           `yaml:"short_window" default:"5" validate:"gte=1,ltefield=Window"`
		RSIPeriod       int           `yaml:"rsi_period" default:"14" validate:"gte=2,ltfield=Window"`
		TODBuckets      int           `yaml:"tod_buckets" default:"6" validate:"gte=1,lte=24"`
		MaxStaleness    time.Duration `yaml:"max_staleness" default:"2m"`
		SentimentMaxAge time.Duration `yaml:"sentiment_max_age" default:"30m"`
	} `yaml:"features"`
	Risk struct {
		Mode    string      `yaml:"mode" default:"paper" validate:"oneof=paper live"`
		FeeRate float64     `yaml:"fee_rate" default:"0.02" validate:"gte=0,lt=1"`
		Paper   RiskProfile `yaml:"paper"`
		Live    RiskProfile `yaml:"live"`
	} `yaml:"risk"`
	Venue struct {
		BaseURL  string        `yaml:"base_url" default:"https://api.simmer.markets"`
		APIKey   string        `yaml:"api_key"`
		Keywords []string      `yaml:"keywords" default:"[\"5 min\",\"5-min\",\"5m\"]"`
		Asset    []string      `yaml:"asset" default:"[\"btc\",\"bitcoin\"]"`
		RPS      float64       `yaml:"rps" default:"2" validate:"gt=0"`
		Burst    int           `yaml:"burst" default:"2" validate:"gte=1"`
		Timeout  time.Duration `yaml:"timeout" default:"10s"`
		Breaker  struct {
			MaxRequests      uint32        `yaml:"max_requests" default:"1"`
			Interval         time.Duration `yaml:"interval" default:"60s"`
			Timeout          time.Duration `yaml:"timeout" default:"30s"`
			FailureThreshold uint32        `yaml:"failure_threshold" default:"5"`
		} `yaml:"breaker"`
	} `yaml:"venue"`
	PriceFeed struct {
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://stream.binance.com:9443/ws"`
		Symbol         string        `yaml:"symbol" default:"btcusdt"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"price_feed"`
	Backend struct {
		Type string `yaml:"type" default:"memory" validate:"oneof=memory clickhouse"`
	} `yaml:"backend"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"arena"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled        bool     `yaml:"enabled"`
		Brokers        []string `yaml:"brokers"`
		EventsTopic    string   `yaml:"events_topic" default:"arena.events"`
		LogTopic       string   `yaml:"log_topic" default:"arena.logs"`
		SentimentTopic string   `yaml:"sentiment_topic" default:"signals.sentiment"`
		RequiredAcks   int      `yaml:"required_acks" default:"-1"`
		Compression    string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"bot-arena"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
		LogFlush     time.Duration `yaml:"log_flush" default:"30s"`
		LogThreshold int           `yaml:"log_threshold" default:"100"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"arena"`
	} `yaml:"redis"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("ARENA_MODE"); v != "" {
		c.Risk.Mode = v
	}
	if v := os.Getenv("VENUE_API_KEY"); v != "" {
		c.Venue.APIKey = v
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	c.Redis.Port = util.ParseIntDefault(os.Getenv("REDIS_PORT"), c.Redis.Port)
	c.Server.Port = util.ParseIntDefault(os.Getenv("PORT"), c.Server.Port)
	if v := os.Getenv("ARENA_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ARENA_SEED: %w", err)
		}
		c.Arena.Seed = seed
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Default returns a config populated only from defaults, for tests and `config validate` without a file.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	c.applyProfileDefaults()
	return &c
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	c.applyProfileDefaults()
	return &c, nil
}

// applyProfileDefaults fills zero-valued profiles. Live defaults cap the arena at $100/day.
func (c *Config) applyProfileDefaults() {
	if c.Risk.Paper == (RiskProfile{}) {
		c.Risk.Paper = RiskProfile{PerTrade: 50, BotDailyLoss: 300, ArenaDailyLoss: 1000, MinStake: 5, MaxStake: 50}
	}
	if c.Risk.Live == (RiskProfile{}) {
		c.Risk.Live = RiskProfile{PerTrade: 10, BotDailyLoss: 40, ArenaDailyLoss: 100, MinStake: 1, MaxStake: 10}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Backend.Type == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when backend.type is 'clickhouse'")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if !sort.Float64sAreSorted(c.Learning.PriceBounds) {
		return fmt.Errorf("learning.price_bounds must be ascending")
	}
	if !sort.Float64sAreSorted(c.Learning.MomentumBounds) {
		return fmt.Errorf("learning.momentum_bounds must be ascending")
	}
	if c.Arena.DecisionOffset >= c.Arena.WindowLength {
		return fmt.Errorf("arena.decision_offset must be shorter than arena.window_length")
	}
	for name, p := range map[string]RiskProfile{"paper": c.Risk.Paper, "live": c.Risk.Live} {
		if p.MinStake > p.MaxStake {
			return fmt.Errorf("risk.%s.min_stake must not exceed max_stake", name)
		}
		if p.MinStake <= 0 {
			return fmt.Errorf("risk.%s.min_stake must be positive", name)
		}
	}
	return nil
}
