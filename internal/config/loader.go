package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	// configName is the config file name without extension.
	configName = ".hll"
	configType = "yaml"

	// envPrefix makes sketch.lg_k readable from HLL_SKETCH_LG_K.
	envPrefix       = "HLL"
	envKeySeparator = "_"
)

// Load reads configuration from defaults, the config file and the
// environment, in increasing order of precedence. If configPath is empty,
// .hll.yaml is searched in the working directory and then $HOME. A missing
// file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults registers every key. AutomaticEnv only maps environment
// variables onto keys viper already knows, so each key needs a default.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("sketch.lg_k", DefaultLgK)
	v.SetDefault("sketch.target_type", DefaultTargetType)
	v.SetDefault("estimate.num_std_dev", DefaultNumStdDev)
	v.SetDefault("store.path", DefaultStorePath)
	v.SetDefault("store.compression", DefaultCompression)
	v.SetDefault("store.compact", DefaultStoreCompact)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.max_connections", DefaultServerMaxConnections)
	v.SetDefault("server.idle_timeout", DefaultServerIdleTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultServerShutdownTimeout)
	v.SetDefault("server.save_interval", DefaultServerSaveInterval)
	v.SetDefault("server.metrics_addr", DefaultServerMetricsAddr)
}
