// Package config loads settings for the hll command from defaults, an
// optional YAML file and HLL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hll.lopezb.com/internal/pds/hyperloglog"
	"hll.lopezb.com/internal/store"
)

// Defaults.
const (
	DefaultLgK          = hyperloglog.DefaultLgK
	DefaultTargetType   = "HLL_8"
	DefaultNumStdDev    = 2
	DefaultStorePath    = "sketches.hls"
	DefaultCompression  = "none"
	DefaultStoreCompact = false
	DefaultLogLevel     = "info"

	DefaultServerAddr            = ":6479"
	DefaultServerMaxConnections  = 100
	DefaultServerIdleTimeout     = time.Duration(0)
	DefaultServerShutdownTimeout = 5 * time.Second
	DefaultServerSaveInterval    = time.Minute
	DefaultServerMetricsAddr     = ""
)

// Config is the top-level configuration. Field tags use mapstructure for
// viper unmarshalling.
type Config struct {
	Sketch   SketchConfig   `mapstructure:"sketch"`
	Estimate EstimateConfig `mapstructure:"estimate"`
	Store    StoreConfig    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
}

// SketchConfig is used when a command creates a new sketch.
type SketchConfig struct {
	LgK        int    `mapstructure:"lg_k"`
	TargetType string `mapstructure:"target_type"`
}

// EstimateConfig holds the confidence interval width for reported bounds.
type EstimateConfig struct {
	NumStdDev int `mapstructure:"num_std_dev"`
}

// StoreConfig locates the snapshot file and controls how it is written.
type StoreConfig struct {
	Path        string `mapstructure:"path"`
	Compression string `mapstructure:"compression"`

	// Compact stores compact sketch images instead of updatable ones.
	Compact bool `mapstructure:"compact"`
}

// LogConfig holds the slog level name.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ServerConfig is used by hll serve.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// SaveInterval is the background snapshot period. Zero disables it.
	SaveInterval time.Duration `mapstructure:"save_interval"`

	// MetricsAddr serves /metrics when set.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	if c.Sketch.LgK < hyperloglog.MinLgK || c.Sketch.LgK > hyperloglog.MaxLgK {
		return fmt.Errorf("%w: sketch.lg_k %d not in [%d, %d]",
			ErrInvalidConfig, c.Sketch.LgK, hyperloglog.MinLgK, hyperloglog.MaxLgK)
	}
	if _, err := hyperloglog.ParseTargetType(c.Sketch.TargetType); err != nil {
		return fmt.Errorf("%w: sketch.target_type: %w", ErrInvalidConfig, err)
	}
	if err := hyperloglog.CheckNumStdDev(c.Estimate.NumStdDev); err != nil {
		return fmt.Errorf("%w: estimate.num_std_dev: %w", ErrInvalidConfig, err)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is empty", ErrInvalidConfig)
	}
	if _, err := store.ParseCompression(c.Store.Compression); err != nil {
		return fmt.Errorf("%w: store.compression: %w", ErrInvalidConfig, err)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}
	return c.Server.validate()
}

func (c *ServerConfig) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: server.addr is empty", ErrInvalidConfig)
	case c.MaxConnections <= 0:
		return fmt.Errorf("%w: server.max_connections must be positive, got %d", ErrInvalidConfig, c.MaxConnections)
	case c.IdleTimeout < 0:
		return fmt.Errorf("%w: server.idle_timeout is negative", ErrInvalidConfig)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: server.shutdown_timeout must be positive", ErrInvalidConfig)
	case c.SaveInterval < 0:
		return fmt.Errorf("%w: server.save_interval is negative", ErrInvalidConfig)
	}
	return nil
}

// TargetType returns the parsed sketch.target_type. Call Validate first.
func (c *Config) TargetType() hyperloglog.TargetType {
	tgt, _ := hyperloglog.ParseTargetType(c.Sketch.TargetType)
	return tgt
}

// StoreOptions returns the snapshot options for store.compression.
func (c *Config) StoreOptions() store.Options {
	comp, _ := store.ParseCompression(c.Store.Compression)
	return store.Options{Compression: comp}
}

// LogLevel returns the parsed log.level, or info if it does not parse.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
