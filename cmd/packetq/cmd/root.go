// Package cmd implements the CLI commands for packetq.
package cmd

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/packetq/internal/config"
	"github.com/jmylchreest/packetq/internal/demux"
	"github.com/jmylchreest/packetq/internal/observability"
	"github.com/jmylchreest/packetq/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "packetq",
	Short:   "Threaded demuxer buffering engine",
	Version: version.Short(),
	Long: `packetq buffers demuxed media packets between a format parser and a
consumer: per-stream queues with configurable readahead, keyframe-bounded
back-buffer eviction, refresh seeks for mid-stream track switches, and
in-buffer cached seeking.

The probe and dump commands drive the engine against local media files.`,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set PersistentPreRunE here to avoid initialization cycle
	// (initLogging references rootCmd.PersistentFlags)
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Global flags
	// Note: These flags are NOT bound to viper. Instead, we check if they were
	// explicitly set using Changed() and only then override the config/env values.
	// This preserves the correct priority: CLI flag > env var > config > default
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.packetq.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/packetq")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".packetq")
	}

	viper.SetEnvPrefix("PACKETQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// initLogging configures the slog logger based on configuration.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (PACKETQ_LOGGING_LEVEL, PACKETQ_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	logCfg := config.LoggingConfig{
		Level:      viper.GetString("logging.level"),
		Format:     viper.GetString("logging.format"),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}

	if v, ok := changedFlag(rootCmd.PersistentFlags(), "log-level"); ok {
		logCfg.Level = v
	}
	if v, ok := changedFlag(rootCmd.PersistentFlags(), "log-format"); ok {
		logCfg.Format = v
	}

	observability.SetDefault(observability.NewLogger(logCfg))
	return nil
}

// changedFlag returns a flag's value only if it was explicitly set.
func changedFlag(fs *pflag.FlagSet, name string) (string, bool) {
	f := fs.Lookup(name)
	if f == nil || !f.Changed {
		return "", false
	}
	return f.Value.String(), true
}

// loadConfig unmarshals the global viper state into a validated Config.
func loadConfig() (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg, viper.DecodeHook(mapstructure.TextUnmarshallerHookFunc())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// demuxOptions converts the demux config section to engine options.
func demuxOptions(cfg *config.Config) demux.Options {
	return demux.Options{
		ReadaheadSecs:    cfg.Demux.Readahead.Seconds(),
		CacheSecs:        cfg.Demux.CacheReadahead.Seconds(),
		MaxBytes:         cfg.Demux.MaxBytes.Bytes(),
		MaxBytesBack:     cfg.Demux.MaxBackBytes.Bytes(),
		ForceSeekable:    cfg.Demux.ForceSeekable,
		SeekableCache:    cfg.Demux.SeekableCache,
		AccessReferences: cfg.Demux.AccessReferences,
		CreateCCs:        cfg.Demux.CreateCCs,
	}
}
