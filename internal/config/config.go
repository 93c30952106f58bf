package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Backend  BackendConfig
	Storage  StorageConfig
	Log      LogConfig
	Guidance map[string]string `mapstructure:"guidance"`
}

// BackendConfig holds the chat backend configuration
type BackendConfig struct {
	BaseURL               string  `mapstructure:"base_url"`
	Streaming             bool    `mapstructure:"streaming"`
	RequestTimeoutSeconds float64 `mapstructure:"request_timeout_seconds"`
	HealthTimeoutSeconds  float64 `mapstructure:"health_timeout_seconds"`
}

// StorageConfig holds the local persistence configuration
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// RequestTimeout returns the outbound request timeout as a duration.
func (b BackendConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSeconds * float64(time.Second))
}

// HealthTimeout returns the health-check timeout as a duration.
func (b BackendConfig) HealthTimeout() time.Duration {
	return time.Duration(b.HealthTimeoutSeconds * float64(time.Second))
}

// Load loads the configuration from config.yaml in the working directory, or
// from the file named by the CONFIG_PATH environment variable when set.
// A missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.streaming", true)
	v.SetDefault("backend.request_timeout_seconds", 30.0)
	v.SetDefault("backend.health_timeout_seconds", 4.0)
	v.SetDefault("storage.path", "sally.db")
	v.SetDefault("log.level", "info")

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
