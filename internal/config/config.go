package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Discovery struct {
		URL           string            `mapstructure:"url"`
		Version       string            `mapstructure:"version"`
		EnvironmentID string            `mapstructure:"environment_id"`
		BearerToken   string            `mapstructure:"bearer_token"` // pre-issued IAM access token
		Username      string            `mapstructure:"username"`
		Password      string            `mapstructure:"password"`
		Headers       map[string]string `mapstructure:"headers"`
		Timeout       time.Duration     `mapstructure:"timeout"`
		RetryMax      int               `mapstructure:"retry_max"`
	} `mapstructure:"discovery"`

	Poller struct {
		Interval             time.Duration `mapstructure:"interval"`
		MaxChecks            int           `mapstructure:"max_checks"`             // 0 polls until the resource settles
		MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"` // failed checks tolerated in a row
		Timeout              time.Duration `mapstructure:"timeout"`                // 0 disables the overall deadline
	} `mapstructure:"poller"`

	Database struct {
		History struct {
			Driver string `mapstructure:"driver"` // "pgx" or "sqlite3"
			DSN    string `mapstructure:"dsn"`    // empty disables check history
		} `mapstructure:"history"`
	} `mapstructure:"database"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Worker struct {
		Concurrency int            `mapstructure:"concurrency"`
		Queues      map[string]int `mapstructure:"queues"`
	} `mapstructure:"worker"`

	Server struct {
		Addr string `mapstructure:"addr"`
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // "text" or "json"
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discovery.url", "")
	v.SetDefault("discovery.version", "2019-02-13")
	v.SetDefault("discovery.environment_id", "")
	v.SetDefault("discovery.bearer_token", "")
	v.SetDefault("discovery.username", "")
	v.SetDefault("discovery.password", "")
	v.SetDefault("discovery.timeout", 60*time.Second)
	v.SetDefault("discovery.retry_max", 3)

	v.SetDefault("poller.interval", 30*time.Second)
	v.SetDefault("poller.max_checks", 0)
	v.SetDefault("poller.max_consecutive_errors", 0)
	v.SetDefault("poller.timeout", 0)

	v.SetDefault("database.history.driver", "pgx")
	v.SetDefault("database.history.dsn", "")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queues", map[string]int{QueueStatusChecks: 1})

	v.SetDefault("server.addr", "localhost")
	v.SetDefault("server.port", "8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// QueueStatusChecks is the asynq queue that carries poll cycles.
const QueueStatusChecks = "status_checks"

// LoadConfig reads config.yaml from the working directory (or path, when set)
// and overlays environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// DISCOWATCH_POLLER_INTERVAL -> poller.interval
	v.SetEnvPrefix("DISCOWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The service's own variable names take precedence over the prefixed ones.
	_ = v.BindEnv("discovery.url", "DISCOVERY_URL", "DISCOWATCH_DISCOVERY_URL")
	_ = v.BindEnv("discovery.environment_id", "DISCOVERY_ENVIRONMENT_ID", "DISCOWATCH_DISCOVERY_ENVIRONMENT_ID")
	_ = v.BindEnv("discovery.bearer_token", "DISCOVERY_BEARER_TOKEN", "DISCOWATCH_DISCOVERY_BEARER_TOKEN")
	_ = v.BindEnv("discovery.username", "DISCOVERY_USERNAME", "DISCOWATCH_DISCOVERY_USERNAME")
	_ = v.BindEnv("discovery.password", "DISCOVERY_PASSWORD", "DISCOWATCH_DISCOVERY_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when everything comes from env vars and defaults.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return &config, nil
}
