package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Daemon is the signald process configuration, read from file with
// environment override.
type Daemon struct {
	APIs     APIConfig      `mapstructure:"apis"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds the market-data provider endpoints.
type APIConfig struct {
	ClobURL  string        `mapstructure:"clob_url"`
	GammaURL string        `mapstructure:"gamma_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// FeedConfig holds the quote-feed subscription settings.
type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

// PipelineConfig holds cycle scheduling and the active core version.
type PipelineConfig struct {
	// CoreVersion names the frozen threshold set the daemon runs with.
	CoreVersion     string  `mapstructure:"core_version"`
	DetectSchedule  string  `mapstructure:"detect_schedule"`
	RefreshSchedule string  `mapstructure:"refresh_schedule"`
	Bankroll        float64 `mapstructure:"bankroll"`
	ResolverWorkers int     `mapstructure:"resolver_workers"`
}

// StorageConfig holds database settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadDaemon reads the daemon configuration from path with LINESIGNAL_*
// environment overrides.
func LoadDaemon(path string) (*Daemon, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("LINESIGNAL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Daemon
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("apis.clob_url", "https://clob.polymarket.com")
	v.SetDefault("apis.gamma_url", "https://gamma-api.polymarket.com")
	v.SetDefault("apis.timeout", "15s")

	v.SetDefault("feed.reconnect_delay", "5s")
	v.SetDefault("feed.ping_interval", "30s")

	v.SetDefault("pipeline.core_version", VersionV1)
	v.SetDefault("pipeline.detect_schedule", "@every 1m")
	v.SetDefault("pipeline.refresh_schedule", "@every 5m")
	v.SetDefault("pipeline.bankroll", 10000.0)
	v.SetDefault("pipeline.resolver_workers", 4)

	v.SetDefault("storage.path", "./data/linesignal.db")

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the configuration values.
func (c *Daemon) Validate() error {
	if c.APIs.ClobURL == "" {
		return fmt.Errorf("apis.clob_url is required")
	}
	if c.APIs.GammaURL == "" {
		return fmt.Errorf("apis.gamma_url is required")
	}
	if c.Pipeline.CoreVersion == "" {
		return fmt.Errorf("pipeline.core_version is required")
	}
	if c.Pipeline.Bankroll <= 0 {
		return fmt.Errorf("pipeline.bankroll must be positive")
	}
	if c.Pipeline.ResolverWorkers < 1 {
		return fmt.Errorf("pipeline.resolver_workers must be at least 1")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}
