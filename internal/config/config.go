package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Runs       RunsConfig       `yaml:"runs"`
	MarketData MarketDataConfig `yaml:"marketdata"`
	Broker     BrokerConfig     `yaml:"broker"`
	Backtest   BacktestConfig   `yaml:"backtest"`
}

// SchedulerConfig holds settings for the workflow scheduler.
type SchedulerConfig struct {
	GlobalMax   int `yaml:"global_max"`   // max concurrent runs system-wide (default: 10)
	PerWorkflow int `yaml:"per_workflow"` // max concurrent runs per workflow (default: 3)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection settings. An empty URL keeps
// everything in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig enables publishing run status events to a topic.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RunsConfig controls run bookkeeping.
type RunsConfig struct {
	EventTTL time.Duration `yaml:"event_ttl"` // how long finished runs stay streamable
	StepTTL  time.Duration `yaml:"step_ttl"`  // journal retention when stored in redis
}

type MarketDataConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheEntries int           `yaml:"cache_entries"` // windows kept in process for replays
}

type BrokerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type BacktestConfig struct {
	Parallel int `yaml:"parallel"` // replays run concurrently by a batch request
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Kafka: KafkaConfig{Topic: "tradeflow.run-status"},
		Scheduler: SchedulerConfig{
			GlobalMax:   10,
			PerWorkflow: 3,
		},
		Runs: RunsConfig{
			EventTTL: 5 * time.Minute,
			StepTTL:  24 * time.Hour,
		},
		MarketData: MarketDataConfig{
			BaseURL:      "https://api.binance.com",
			Timeout:      10 * time.Second,
			CacheTTL:     time.Hour,
			CacheEntries: 256,
		},
		Broker:   BrokerConfig{Timeout: 10 * time.Second},
		Backtest: BacktestConfig{Parallel: 4},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
// Environment overrides are applied on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads ".env" if present, then tries "config.yaml" from the
// current directory. If the file does not exist, it returns sensible
// defaults with environment overrides applied.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile is LoadDefault with an explicit config path.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = defaults()
			if err := cfg.applyEnv(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Database.URL, "TRADEFLOW_DATABASE_URL")
	setString(&c.Redis.Addr, "TRADEFLOW_REDIS_ADDR")
	setString(&c.Redis.Password, "TRADEFLOW_REDIS_PASSWORD")
	setString(&c.Kafka.Topic, "TRADEFLOW_KAFKA_TOPIC")
	setString(&c.MarketData.BaseURL, "TRADEFLOW_MARKETDATA_URL")
	setString(&c.Broker.BaseURL, "TRADEFLOW_BROKER_URL")
	if v := os.Getenv("TRADEFLOW_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("TRADEFLOW_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("TRADEFLOW_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRADEFLOW_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
