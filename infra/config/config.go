// Package config loads process configuration from config.yaml, environment
// variables (MATCHD_ prefix, dots as underscores) and built-in defaults.
// The file overrides defaults; the environment overrides both.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"matchd/infra/logging"
)

type Config struct {
	Server ServerConfig   `mapstructure:"server"`
	Log    logging.Config `mapstructure:"log"`
	Market MarketConfig   `mapstructure:"market"`
	Outbox OutboxConfig   `mapstructure:"outbox"`
	Kafka  KafkaConfig    `mapstructure:"kafka"`
	Redis  RedisConfig    `mapstructure:"redis"`
	Feed   FeedConfig     `mapstructure:"feed"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type MarketConfig struct {
	CloseHour int    `mapstructure:"close_hour"`
	Timezone  string `mapstructure:"timezone"`
	TickSize  string `mapstructure:"tick_size"`
}

type OutboxConfig struct {
	Dir            string        `mapstructure:"dir"`
	ReplayInterval time.Duration `mapstructure:"replay_interval"`
	ReplayBatch    int           `mapstructure:"replay_batch"`
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TradesTopic string   `mapstructure:"trades_topic"`
	DepthTopic  string   `mapstructure:"depth_topic"`
}

// RedisConfig gates the ticker cache; an empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type FeedConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads config.yaml from path. A missing file is fine; defaults and
// environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("MATCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("market.close_hour", 16)
	v.SetDefault("market.timezone", "Local")
	v.SetDefault("market.tick_size", "0.01")
	v.SetDefault("outbox.dir", "data/outbox")
	v.SetDefault("outbox.replay_interval", "250ms")
	v.SetDefault("outbox.replay_batch", 256)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.trades_topic", "matchd.trades")
	v.SetDefault("kafka.depth_topic", "matchd.depth")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("feed.interval", "1s")
}
