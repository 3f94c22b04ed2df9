// Package config provides configuration management for the sync engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Options holds the hot-reloadable settings consumed by the engine.
// The scheduler reads a fresh snapshot at every tick boundary.
type Options struct {
	Sync SyncOptions `mapstructure:"sync"`
	DB   DBOptions   `mapstructure:"db"`
	Log  LogOptions  `mapstructure:"log"`
}

// SyncOptions holds settings for the background update loop.
type SyncOptions struct {
	RequestDelayMillis   int      `mapstructure:"request_delay_ms"`
	TickDelayMinutes     int      `mapstructure:"tick_delay_minutes"`
	GraceMinutes         int      `mapstructure:"grace_minutes"`
	StartupDelaySeconds  int      `mapstructure:"startup_delay_seconds"`
	KeepAliveURL         string   `mapstructure:"keep_alive_url"`
	FirstYear            int      `mapstructure:"first_year"`
	BatchSize            int      `mapstructure:"batch_size"`
	Exchanges            []string `mapstructure:"exchanges"`
	Frequency            string   `mapstructure:"frequency"`
}

// DBOptions holds database settings.
type DBOptions struct {
	Path string `mapstructure:"path"`
}

// LogOptions holds logging settings.
type LogOptions struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config loads options from a TOML file and keeps them current while the
// file is watched.
type Config struct {
	v  *viper.Viper
	mu sync.RWMutex

	current Options
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/stocksync"
	}
	return filepath.Join(home, ".config", "stocksync")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
// A template config file is created when none exists.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := writeTemplate(configDir); err != nil {
				return nil, fmt.Errorf("creating template config: %w", err)
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	c := &Config{v: v}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("sync.request_delay_ms", 250)
	v.SetDefault("sync.tick_delay_minutes", 1)
	v.SetDefault("sync.grace_minutes", 30)
	v.SetDefault("sync.startup_delay_seconds", 5)
	v.SetDefault("sync.keep_alive_url", "")
	v.SetDefault("sync.first_year", 2010)
	v.SetDefault("sync.batch_size", 128)
	v.SetDefault("sync.exchanges", []string{"NASDAQ", "NYSE"})
	v.SetDefault("sync.frequency", "monthly")
	v.SetDefault("db.path", filepath.Join(configDir, "stocksync.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
	v.SetDefault("log.file_path", filepath.Join(configDir, "logs", "stocksync.log"))
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
}

func (c *Config) reload() error {
	var opts Options
	if err := c.v.Unmarshal(&opts); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	c.mu.Lock()
	c.current = opts
	c.mu.Unlock()
	return nil
}

// Watch starts watching the config file. Changed values become visible
// through Current without a restart; invalid changes are logged and the
// previous options stay in effect.
func (c *Config) Watch(logger zerolog.Logger) {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if err := c.reload(); err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("ignoring config change")
			return
		}
		logger.Info().Str("file", e.Name).Msg("config reloaded")
	})
	c.v.WatchConfig()
}

// Current returns a snapshot of the current options.
func (c *Config) Current() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Validate validates the options.
func (o Options) Validate() error {
	if o.Sync.RequestDelayMillis < 0 {
		return fmt.Errorf("request_delay_ms must be non-negative")
	}
	if o.Sync.TickDelayMinutes < 1 {
		return fmt.Errorf("tick_delay_minutes must be at least 1")
	}
	if o.Sync.GraceMinutes < 0 {
		return fmt.Errorf("grace_minutes must be non-negative")
	}
	if o.Sync.FirstYear < 1900 {
		return fmt.Errorf("first_year %d is out of range", o.Sync.FirstYear)
	}
	if o.Sync.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if len(o.Sync.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange must be configured")
	}
	if o.DB.Path == "" {
		return fmt.Errorf("db path cannot be empty")
	}
	return nil
}
