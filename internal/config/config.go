// Package config provides configuration management for packetq using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Demux   DemuxConfig   `mapstructure:"demux"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DemuxConfig holds the buffering engine tuning options.
type DemuxConfig struct {
	// Readahead is the minimum span of forward buffer to maintain per
	// active stream.
	Readahead Duration `mapstructure:"readahead"`
	// CacheReadahead supersedes Readahead for network or cached sources.
	CacheReadahead Duration `mapstructure:"cache_readahead"`
	// MaxBytes is the engine-wide forward-window byte cap.
	// Supports human-readable values like "400MB" or raw byte counts.
	MaxBytes ByteSize `mapstructure:"max_bytes"`
	// MaxBackBytes is the engine-wide back-window byte cap.
	MaxBackBytes ByteSize `mapstructure:"max_back_bytes"`
	// ForceSeekable marks partially-seekable sources as seekable.
	ForceSeekable bool `mapstructure:"force_seekable"`
	// SeekableCache enables satisfying seeks from buffered packets.
	SeekableCache bool `mapstructure:"seekable_cache"`
	// AccessReferences allows loading referenced external media.
	AccessReferences bool `mapstructure:"access_references"`
	// CreateCCs pre-creates closed-caption tracks for video streams.
	CreateCCs bool `mapstructure:"create_ccs"`
}

// SetDefaults registers all default configuration values with Viper.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	v.SetDefault("demux.readahead", "1s")
	v.SetDefault("demux.cache_readahead", "10s")
	v.SetDefault("demux.max_bytes", "400MB")
	v.SetDefault("demux.max_back_bytes", "0")
	v.SetDefault("demux.force_seekable", false)
	v.SetDefault("demux.seekable_cache", false)
	v.SetDefault("demux.access_references", true)
	v.SetDefault("demux.create_ccs", false)
}

// Load reads configuration from the given file path (optional), environment
// variables, and defaults, in descending priority.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/packetq")
		v.SetConfigType("yaml")
		v.SetConfigName(".packetq")
	}

	v.SetEnvPrefix("PACKETQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Read config file (a missing implicit config file is fine).
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" {
			return nil, fmt.Errorf("reading config file: %w", err)
		} else if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.TextUnmarshallerHookFunc())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}

	if c.Demux.Readahead < 0 {
		return errors.New("demux.readahead must not be negative")
	}
	if c.Demux.CacheReadahead < 0 {
		return errors.New("demux.cache_readahead must not be negative")
	}
	if c.Demux.MaxBytes < 0 {
		return errors.New("demux.max_bytes must not be negative")
	}
	if c.Demux.MaxBackBytes < 0 {
		return errors.New("demux.max_back_bytes must not be negative")
	}

	return nil
}
