// Package config provides YAML-based configuration loading for Relay.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Relay configuration, loaded from relay.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Memory   MemoryConfig   `yaml:"memory"`
	Executor ExecutorConfig `yaml:"executor"`
	Workers  WorkerConfig   `yaml:"workers"`
	Janitor  JanitorConfig  `yaml:"janitor"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects and configures the state store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	Path   string `yaml:"path"`   // sqlite file path
	Host   string `yaml:"host"`   // mysql
	Port   int    `yaml:"port"`   // mysql
	Name   string `yaml:"name"`   // mysql database name
}

// SessionConfig governs session lifecycle limits.
type SessionConfig struct {
	// TTLSeconds is how long an idle session survives before the janitor
	// evicts it. 0 disables eviction.
	TTLSeconds int `yaml:"ttl_seconds"`
	// MaxTasks caps the number of tasks per session.
	MaxTasks int `yaml:"max_tasks"`
}

// MemoryConfig governs long-term memory reads.
type MemoryConfig struct {
	// ReadLimit is the number of most-recent entries injected into
	// executor context at invoke time.
	ReadLimit int `yaml:"read_limit"`
}

// ExecutorConfig points at the external agent executor endpoint.
type ExecutorConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// WorkerConfig sizes the local execution backend pool.
type WorkerConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// JanitorConfig schedules background cleanup sweeps.
type JanitorConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string `yaml:"schedule"`
}

// NotifyConfig configures interrupt notification adapters. An adapter is
// active when its token and channel are both set.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack bot credentials for interrupt notifications.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig holds Discord bot credentials for interrupt notifications.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "relay.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "relay"
		}
	}
	if c.Session.MaxTasks == 0 {
		c.Session.MaxTasks = 64
	}
	if c.Memory.ReadLimit == 0 {
		c.Memory.ReadLimit = 20
	}
	if c.Executor.TimeoutSeconds == 0 {
		c.Executor.TimeoutSeconds = 300
	}
	if c.Workers.MaxConcurrent == 0 {
		c.Workers.MaxConcurrent = 8
	}
	if c.Janitor.Schedule == "" {
		c.Janitor.Schedule = "*/5 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Executor.URL == "" {
		errs = append(errs, "executor.url is required")
	}
	if c.Session.MaxTasks < 0 {
		errs = append(errs, "session.max_tasks must not be negative")
	}
	if c.Session.TTLSeconds < 0 {
		errs = append(errs, "session.ttl_seconds must not be negative")
	}
	if c.Workers.MaxConcurrent < 1 {
		errs = append(errs, "workers.max_concurrent must be at least 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
