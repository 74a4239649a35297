package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. NETMONITOR_LISTEN_ADDR.
const EnvPrefix = "NETMONITOR"

// Config holds settings for the process shell. The probe policy and the
// allow-list are fixed and deliberately absent here.
type Config struct {
	ListenAddr         string  `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	LogLevel           string  `yaml:"log_level" envconfig:"LOG_LEVEL"`
	HistorySize        int     `yaml:"history_size" envconfig:"HISTORY_SIZE"`
	AlertThreshold     int     `yaml:"alert_threshold" envconfig:"ALERT_THRESHOLD"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" envconfig:"RATE_LIMIT_PER_SECOND"`
	RateBurst          int     `yaml:"rate_burst" envconfig:"RATE_BURST"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         "127.0.0.1:8080",
		LogLevel:           "INFO",
		HistorySize:        200,
		AlertThreshold:     3,
		RateLimitPerSecond: 10,
		RateBurst:          6,
	}
}

// Load reads configuration from a yaml file, then applies .env and
// NETMONITOR_* environment overrides. Missing files fall back to defaults.
// envFiles defaults to ".env".
func Load(path string, envFiles ...string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, errors.Wrap(err, "read config")
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, errors.Wrap(err, "parse config")
			}
		}
	}

	if err := applyEnv(&cfg, envFiles); err != nil {
		return Config{}, err
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, envFiles []string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "load env file %s", file)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return errors.Wrap(err, "process environment")
	}
	return nil
}

func (c *Config) normalize() error {
	defaults := DefaultConfig()
	if c.ListenAddr == "" {
		return errors.New("listen_addr must not be empty")
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaults.HistorySize
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = defaults.AlertThreshold
	}
	if c.RateLimitPerSecond < 0 {
		return errors.Errorf("rate_limit_per_second must not be negative, got %v", c.RateLimitPerSecond)
	}
	if c.RateBurst <= 0 {
		c.RateBurst = defaults.RateBurst
	}
	return nil
}
