// Package config provides YAML-based configuration loading for the pipe
// server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the application
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Pipe holds the endpoint and protocol settings
	Pipe PipeConfig `mapstructure:"pipe"`
}

// PipeConfig describes the well-known endpoint and its tuning.
type PipeConfig struct {
	// Kind selects the transport: winpipe or mem
	Kind string `mapstructure:"kind"`
	// Name is the well-known endpoint name clients initially connect to
	// (e.g. `\\.\pipe\myservice` for winpipe)
	Name string `mapstructure:"name"`
	// SecurityDescriptor is passed through to endpoint creation unexamined;
	// empty means OS defaults
	SecurityDescriptor string `mapstructure:"security_descriptor"`
	InputBufferSize    int32  `mapstructure:"input_buffer_size"`
	OutputBufferSize   int32  `mapstructure:"output_buffer_size"`

	// RetryPauseMS is the fixed pause between handshake cycles
	RetryPauseMS int `mapstructure:"retry_pause_ms"`
	// HandshakeTimeoutMS bounds one grant exchange
	HandshakeTimeoutMS int `mapstructure:"handshake_timeout_ms"`
	// MaxFrameSize bounds one data frame in bytes
	MaxFrameSize int `mapstructure:"max_frame_size"`
	// Codec content type for data messages: application/json or application/cbor
	Codec string `mapstructure:"codec"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "pipemux",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Pipe: PipeConfig{
			Kind:               "winpipe",
			Name:               `\\.\pipe\pipemux`,
			RetryPauseMS:       1000,
			HandshakeTimeoutMS: 5000,
			MaxFrameSize:       1 << 20,
			Codec:              "application/json",
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix PIPEMUX and `.`/`-` are replaced with `_`.
// Example: PIPEMUX_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PIPEMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("pipe.kind", cfg.Pipe.Kind)
	v.SetDefault("pipe.name", cfg.Pipe.Name)
	v.SetDefault("pipe.security_descriptor", cfg.Pipe.SecurityDescriptor)
	v.SetDefault("pipe.input_buffer_size", cfg.Pipe.InputBufferSize)
	v.SetDefault("pipe.output_buffer_size", cfg.Pipe.OutputBufferSize)
	v.SetDefault("pipe.retry_pause_ms", cfg.Pipe.RetryPauseMS)
	v.SetDefault("pipe.handshake_timeout_ms", cfg.Pipe.HandshakeTimeoutMS)
	v.SetDefault("pipe.max_frame_size", cfg.Pipe.MaxFrameSize)
	v.SetDefault("pipe.codec", cfg.Pipe.Codec)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("PIPEMUX_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `pipemux`
		v.SetConfigName("pipemux")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pipemux"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Pipe.Kind = strings.ToLower(strings.TrimSpace(c.Pipe.Kind))
	switch c.Pipe.Kind {
	case "winpipe", "mem":
		// ok
	default:
		return fmt.Errorf("invalid pipe.kind: %q", c.Pipe.Kind)
	}
	if strings.TrimSpace(c.Pipe.Name) == "" {
		return errors.New("pipe.name must not be empty")
	}
	switch c.Pipe.Codec {
	case "", "application/json", "application/cbor":
		if c.Pipe.Codec == "" {
			c.Pipe.Codec = "application/json"
		}
	default:
		return fmt.Errorf("invalid pipe.codec: %q", c.Pipe.Codec)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
