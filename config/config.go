// Package config loads the application configuration from a JSON file with
// environment variable overrides for deployment secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Subscription is one (symbol, timeframe) pipeline.
type Subscription struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// DatabaseConfig holds the optional Postgres audit-trail settings.
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// ExchangeConfig holds exchange API settings.
type ExchangeConfig struct {
	APIKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
	Testnet    bool   `json:"testnet"`
	TimeoutSec int    `json:"timeout_sec"`
}

// TradingConfig holds pipeline settings.
type TradingConfig struct {
	Subscriptions        []Subscription `json:"subscriptions"`
	ConsumerGroup        string         `json:"consumer_group"`
	PollBatch            int64          `json:"poll_batch"`
	PollBlockMs          int            `json:"poll_block_ms"`
	ReconcileIntervalSec int            `json:"reconcile_interval_sec"`
	QueueWorkers         int            `json:"queue_workers"`
	TaskMaxAttempts      int            `json:"task_max_attempts"`
	DryRun               bool           `json:"dry_run"`
}

// ServerConfig holds the ops API settings.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `json:"level"`
	Output string `json:"output"`
}

// Config is the root configuration.
type Config struct {
	Redis    RedisConfig    `json:"redis"`
	Database DatabaseConfig `json:"database"`
	Exchange ExchangeConfig `json:"exchange"`
	Trading  TradingConfig  `json:"trading"`
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
}

func defaults() *Config {
	return &Config{
		Redis: RedisConfig{Addr: "localhost:6379"},
		Exchange: ExchangeConfig{
			Testnet:    true,
			TimeoutSec: 15,
		},
		Trading: TradingConfig{
			ConsumerGroup:        "signal-pollers",
			PollBatch:            16,
			PollBlockMs:          5000,
			ReconcileIntervalSec: 60,
			QueueWorkers:         4,
			TaskMaxAttempts:      3,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Logging: LoggingConfig{Level: "INFO", Output: "stdout"},
	}
}

// Load reads configuration from path (skipped when empty or absent) and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Enabled = true
	}
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("EXCHANGE_SECRET_KEY"); v != "" {
		cfg.Exchange.SecretKey = v
	}
	if v := os.Getenv("EXCHANGE_TESTNET"); v != "" {
		cfg.Exchange.Testnet = v == "true" || v == "1"
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.Trading.DryRun = v == "true" || v == "1"
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SUBSCRIPTIONS"); v != "" {
		// "BTCUSDT:2m,ETHUSDT:5m"
		var subs []Subscription
		for _, part := range strings.Split(v, ",") {
			sym, tf, ok := strings.Cut(strings.TrimSpace(part), ":")
			if ok && sym != "" && tf != "" {
				subs = append(subs, Subscription{Symbol: sym, Timeframe: tf})
			}
		}
		if len(subs) > 0 {
			cfg.Trading.Subscriptions = subs
		}
	}
}

func (c *Config) validate() error {
	if len(c.Trading.Subscriptions) == 0 {
		return fmt.Errorf("config: at least one subscription required")
	}
	for _, s := range c.Trading.Subscriptions {
		if s.Symbol == "" || s.Timeframe == "" {
			return fmt.Errorf("config: subscription needs symbol and timeframe")
		}
	}
	if !c.Trading.DryRun && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
		return fmt.Errorf("config: exchange credentials required outside dry-run mode")
	}
	return nil
}

// PollBlock returns the poller block timeout as a duration.
func (c *Config) PollBlock() time.Duration {
	return time.Duration(c.Trading.PollBlockMs) * time.Millisecond
}

// ReconcileInterval returns the sweep interval as a duration.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Trading.ReconcileIntervalSec) * time.Second
}

// ExchangeTimeout returns the exchange HTTP timeout as a duration.
func (c *Config) ExchangeTimeout() time.Duration {
	return time.Duration(c.Exchange.TimeoutSec) * time.Second
}
