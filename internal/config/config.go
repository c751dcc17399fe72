// Package config loads the service configuration: HTTP listener,
// storage paths, sandbox images, queue sizing, and logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Build   BuildConfig   `yaml:"build"`
	Queue   QueueConfig   `yaml:"queue"`
	Events  EventsConfig  `yaml:"events"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig configures persistent paths.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	CheckoutRoot string `yaml:"checkout_root"`
}

// BuildConfig configures the sandboxes builds run in.
type BuildConfig struct {
	// VCSImage is the pinned image checkouts run in, independent of the
	// per-project build image.
	VCSImage string `yaml:"vcs_image"`

	// BuildImagePattern renders the build image from the configured OS.
	BuildImagePattern string `yaml:"build_image_pattern"`

	CloneDepth  int           `yaml:"clone_depth"`
	MemoryLimit string        `yaml:"memory_limit"`
	CommandTime time.Duration `yaml:"command_time"`

	// TimeBudget is the hard wall-clock limit one build may consume
	// before the sweeper terminates it.
	TimeBudget    time.Duration `yaml:"time_budget"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// MemoryBytes parses the memory limit into bytes. Unparseable values
// fall back to unlimited.
func (b BuildConfig) MemoryBytes() int64 {
	s := strings.ToLower(strings.TrimSpace(b.MemoryLimit))
	if s == "" {
		return 0
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n * mult
}

// QueueConfig sizes the build worker pool.
type QueueConfig struct {
	Workers int `yaml:"workers"`
	MaxSize int `yaml:"max_size"`
}

// EventsConfig configures the build event stream. An empty NATS URL
// disables publishing.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
}

// LoggingConfig configures slog output. Level is the only field the
// watcher applies at runtime.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel maps the configured level onto slog.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads the configuration file, expanding ${VAR} references from
// the environment. A .env file next to the process is merged first.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Could not load .env file", "error", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a runnable configuration without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "docharbor.db"
	}
	if c.Storage.CheckoutRoot == "" {
		c.Storage.CheckoutRoot = "checkouts"
	}
	if c.Build.VCSImage == "" {
		c.Build.VCSImage = "docharbor/vcs:stable"
	}
	if c.Build.BuildImagePattern == "" {
		c.Build.BuildImagePattern = "docharbor/build:%s"
	}
	if c.Build.CloneDepth == 0 {
		c.Build.CloneDepth = 50
	}
	if c.Build.MemoryLimit == "" {
		c.Build.MemoryLimit = "4g"
	}
	if c.Build.CommandTime == 0 {
		c.Build.CommandTime = 30 * time.Minute
	}
	if c.Build.TimeBudget == 0 {
		c.Build.TimeBudget = 2 * time.Hour
	}
	if c.Build.SweepInterval == 0 {
		c.Build.SweepInterval = 5 * time.Minute
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.MaxSize == 0 {
		c.Queue.MaxSize = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if !strings.Contains(c.Build.BuildImagePattern, "%s") {
		return fmt.Errorf("build_image_pattern must contain %%s for the OS name")
	}
	if c.Build.CloneDepth < 0 {
		return fmt.Errorf("clone_depth cannot be negative")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be at least 1")
	}
	if c.Build.TimeBudget < time.Minute {
		return fmt.Errorf("build time_budget below one minute would sweep running builds")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	cfg := Default()
	cfg.Events.NATSURL = "nats://localhost:4222"
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(configPath, data, 0o644)
}
