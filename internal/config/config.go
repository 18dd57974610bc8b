package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (CAMCTL_SQLITE_PATH, ...).
const EnvPrefix = "CAMCTL"

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Working directory; local artifacts land under <work-dir>/artifacts/<run-id>.
	WorkDir string `mapstructure:"work-dir"`

	// Execution
	Durable        bool `mapstructure:"durable"`
	StrictPatterns bool `mapstructure:"strict-patterns"`
	LogTopN        int  `mapstructure:"log-top-n"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`

	// S3 configuration; an empty bucket disables uploads.
	S3Bucket string `mapstructure:"s3-bucket"`
	S3Region string `mapstructure:"s3-region"`
	S3Prefix string `mapstructure:"s3-prefix"`

	// MQTT stage events; an empty broker disables publishing.
	MQTTBroker      string `mapstructure:"mqtt-broker"`
	MQTTTopicPrefix string `mapstructure:"mqtt-topic-prefix"`
	MQTTClientID    string `mapstructure:"mqtt-client-id"`

	MetricsFile string `mapstructure:"metrics-file"`

	// Size limits
	MaxEnvelopeSize  int64 `mapstructure:"max-envelope-size"`
	MaxArtifactBytes int64 `mapstructure:"max-artifact-bytes"`
}

// SetDefaults installs the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("sqlite-path", ".camctl/history.db")
	v.SetDefault("fsm-db-path", ".camctl/fsm")
	v.SetDefault("work-dir", ".camctl/work")
	v.SetDefault("durable", false)
	v.SetDefault("strict-patterns", false)
	v.SetDefault("log-top-n", 50)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "auto")
	v.SetDefault("s3-bucket", "")
	v.SetDefault("s3-region", "us-east-1")
	v.SetDefault("s3-prefix", "runs")
	v.SetDefault("mqtt-broker", "")
	v.SetDefault("mqtt-topic-prefix", "camctl")
	v.SetDefault("mqtt-client-id", "")
	v.SetDefault("metrics-file", "")
	v.SetDefault("max-envelope-size", 64*1024*1024)
	v.SetDefault("max-artifact-bytes", 256*1024*1024)
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load over an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Environment variables (CAMCTL_SQLITE_PATH, etc.)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.camctl")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.Durable && c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty when durable is set")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.LogTopN < 1 {
		return fmt.Errorf("log-top-n must be at least 1")
	}
	if c.MaxEnvelopeSize <= 0 {
		return fmt.Errorf("max-envelope-size must be positive")
	}
	if c.MaxArtifactBytes <= 0 {
		return fmt.Errorf("max-artifact-bytes must be positive")
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return fmt.Errorf("s3-region cannot be empty when s3-bucket is set")
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log-format must be auto, text or json, got %q", c.LogFormat)
	}
	return nil
}
