package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPPort        string        `yaml:"http_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`

	Storage  Storage  `yaml:"storage"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Mongo    Mongo    `yaml:"mongo"`
	Checkout Checkout `yaml:"checkout"`

	SeedDemoData    bool   `yaml:"seed_demo_data"`
	HistoryHTTPPort string `yaml:"history_http_port"`
}

type Storage struct {
	Driver     string `yaml:"driver"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name"`
	SQLitePath string `yaml:"sqlite_path"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type Kafka struct {
	Brokers            []string      `yaml:"brokers"`
	OrderEventsTopic   string        `yaml:"order_events_topic"`
	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size"`
}

type Mongo struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type Checkout struct {
	RateLimit           float64 `yaml:"rate_limit"`
	RateBurst           int     `yaml:"rate_burst"`
	OrderNumberAttempts int     `yaml:"order_number_attempts"`
}

func Default() *Config {
	return &Config{
		HTTPPort:        "8080",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		Storage: Storage{
			Driver:     DriverSQLite,
			Host:       "localhost",
			Port:       5432,
			User:       "postgres",
			Name:       "storefront",
			SQLitePath: "storefront.db",
		},
		Kafka: Kafka{
			OrderEventsTopic:   "order-events",
			OutboxPollInterval: time.Second,
			OutboxBatchSize:    100,
		},
		Mongo: Mongo{
			URI:      "mongodb://localhost:27017",
			Database: "storefront_history",
		},
		Checkout: Checkout{
			RateLimit:           50,
			RateBurst:           100,
			OrderNumberAttempts: 5,
		},
		HistoryHTTPPort: "8081",
	}
}

// Load starts from the defaults, applies CONFIG_FILE when it is set, then
// lets environment variables override single keys.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	env := &envReader{}

	c.HTTPPort = env.String("HTTP_PORT", c.HTTPPort)
	c.LogLevel = env.String("LOG_LEVEL", c.LogLevel)
	c.RequestTimeout = env.Duration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.ShutdownTimeout = env.Duration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.Storage.Driver = env.String("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Host = env.String("DB_HOST", c.Storage.Host)
	c.Storage.Port = env.Int("DB_PORT", c.Storage.Port)
	c.Storage.User = env.String("DB_USER", c.Storage.User)
	c.Storage.Password = env.String("DB_PASSWORD", c.Storage.Password)
	c.Storage.Name = env.String("DB_NAME", c.Storage.Name)
	c.Storage.SQLitePath = env.String("SQLITE_PATH", c.Storage.SQLitePath)

	c.Redis.Addr = env.String("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = env.String("REDIS_PASSWORD", c.Redis.Password)

	c.Kafka.Brokers = env.List("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.OrderEventsTopic = env.String("ORDER_EVENTS_TOPIC", c.Kafka.OrderEventsTopic)
	c.Kafka.OutboxPollInterval = env.Duration("OUTBOX_POLL_INTERVAL", c.Kafka.OutboxPollInterval)
	c.Kafka.OutboxBatchSize = env.Int("OUTBOX_BATCH_SIZE", c.Kafka.OutboxBatchSize)

	c.Mongo.URI = env.String("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = env.String("MONGO_DB", c.Mongo.Database)

	c.Checkout.RateLimit = env.Float("CHECKOUT_RATE_LIMIT", c.Checkout.RateLimit)
	c.Checkout.RateBurst = env.Int("CHECKOUT_RATE_BURST", c.Checkout.RateBurst)
	c.Checkout.OrderNumberAttempts = env.Int("ORDER_NUMBER_ATTEMPTS", c.Checkout.OrderNumberAttempts)

	c.SeedDemoData = env.Bool("SEED_DEMO_DATA", c.SeedDemoData)
	c.HistoryHTTPPort = env.String("HISTORY_HTTP_PORT", c.HistoryHTTPPort)

	return errors.Join(env.errs...)
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("http port is required"))
	}
	if c.RequestTimeout <= 0 || c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.Checkout.RateLimit <= 0 || c.Checkout.RateBurst <= 0 {
		errs = append(errs, errors.New("checkout rate limit and burst must be positive"))
	}
	if c.Checkout.OrderNumberAttempts <= 0 {
		errs = append(errs, errors.New("order number attempts must be positive"))
	}
	if c.Kafka.OutboxBatchSize <= 0 || c.Kafka.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox batch size and poll interval must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader overrides values from the environment and remembers every
// variable it could not parse.
type envReader struct {
	errs []error
}

func (e *envReader) String(key, current string) string {
	return getEnv(key, current)
}

func (e *envReader) Int(key string, current int) int {
	return parse(e, key, current, strconv.Atoi)
}

func (e *envReader) Float(key string, current float64) float64 {
	return parse(e, key, current, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func (e *envReader) Bool(key string, current bool) bool {
	return parse(e, key, current, strconv.ParseBool)
}

func (e *envReader) Duration(key string, current time.Duration) time.Duration {
	return parse(e, key, current, time.ParseDuration)
}

func (e *envReader) List(key string, current []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return current
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parse[T any](e *envReader, key string, current T, fn func(string) (T, error)) T {
	value := os.Getenv(key)
	if value == "" {
		return current
	}
	v, err := fn(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return current
	}
	return v
}
