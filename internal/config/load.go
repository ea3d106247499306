package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return loadConfig("")
}

// LoadFile loads configuration from an explicit file path instead of the
// default search locations. Unlike Load, a missing or unreadable file is
// an error here since the operator asked for that exact file.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config file path is empty")
	}
	return loadConfig(path)
}

func loadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// Read an optional YAML config file from the working directory or
		// /etc/showrunner. A missing file is fine; env vars and defaults
		// carry the configuration on their own.
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/showrunner")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Environment variables use the SHOWRUNNER_ prefix with underscores
	// for nesting, e.g. SHOWRUNNER_SERVER_PORT, SHOWRUNNER_DATABASE_URL.
	v.SetEnvPrefix("SHOWRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every setting that has
// one. Required settings without defaults (such as database.url for
// the postgres driver) must come from the file or the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.callback_base_url", "")

	v.SetDefault("database.driver", "postgres")
	// Registered empty so AutomaticEnv can bind SHOWRUNNER_DATABASE_URL;
	// viper only reads env vars for keys it already knows about.
	v.SetDefault("database.url", "")
	v.SetDefault("database.redis_addr", "localhost:6379")
	v.SetDefault("database.redis_db", 0)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("queue.default_max_attempts", 3)
	v.SetDefault("queue.default_priority", 5)
	v.SetDefault("queue.retention", "24h")

	v.SetDefault("dispatch.poll_interval", "2s")
	v.SetDefault("dispatch.no_candidate_backoff", "5s")
	v.SetDefault("dispatch.execute_timeout", "30s")

	v.SetDefault("health.probe_interval", "30s")
	v.SetDefault("health.probe_timeout", "10s")
	v.SetDefault("health.offline_threshold", 3)
	v.SetDefault("health.max_parallel_probes", 8)

	v.SetDefault("refill.enabled", false)
	v.SetDefault("refill.low_water", 10)
	v.SetDefault("refill.high_water", 50)
	v.SetDefault("refill.priority", 3)
	v.SetDefault("refill.interval", "1m")
}
