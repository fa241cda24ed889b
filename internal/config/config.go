// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Snapshot struct {
		Workers int `mapstructure:"workers"`
	} `mapstructure:"snapshot"`

	Store struct {
		CacheSize int `mapstructure:"cache_size"`
	} `mapstructure:"store"`

	Output struct {
		Color bool `mapstructure:"color"`
	} `mapstructure:"output"`

	Watch struct {
		Debounce time.Duration `mapstructure:"debounce"`
	} `mapstructure:"watch"`

	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error
}

const envPrefix = "WALTZ"

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("snapshot.workers", runtime.NumCPU())
	v.SetDefault("store.cache_size", 1024)
	v.SetDefault("output.color", true)
	v.SetDefault("watch.debounce", 300*time.Millisecond)
}

// Load resolves the configuration from defaults, the optional JSON file at
// path and WALTZ_* environment variables, in increasing precedence.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Snapshot.Workers < 1 {
		return fmt.Errorf("snapshot.workers must be at least 1, got %d", c.Snapshot.Workers)
	}
	if c.Store.CacheSize < 1 {
		return fmt.Errorf("store.cache_size must be at least 1, got %d", c.Store.CacheSize)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}
