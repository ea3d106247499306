package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Dispatch DispatchConfig `mapstructure:"dispatch" validate:"required"`
	Health   HealthConfig   `mapstructure:"health"   validate:"required"`
	Refill   RefillConfig   `mapstructure:"refill"`
}

// ServerConfig contains all server-related configuration settings.
// CallbackBaseURL is the externally reachable base URL worker nodes
// deliver their reports to; empty defaults to localhost on Port.
type ServerConfig struct {
	Port            int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	CallbackBaseURL string `mapstructure:"callback_base_url" validate:"omitempty,url"`
}

// DatabaseConfig selects and configures the durable store backend.
// URL is required for the postgres driver, RedisAddr for the redis one.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver" validate:"required,oneof=postgres redis"`
	URL         string `mapstructure:"url" validate:"required_if=Driver postgres,omitempty,url"`
	RedisAddr   string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisDB     int    `mapstructure:"redis_db" validate:"gte=0"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// QueueConfig contains task defaults and retention settings.
type QueueConfig struct {
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts" validate:"required,gte=1"`
	DefaultPriority    int           `mapstructure:"default_priority" validate:"required,gte=1,lte=10"`
	Retention          time.Duration `mapstructure:"retention" validate:"required"`

	// AllowedKinds restricts which task kinds may be enqueued. Empty
	// accepts any kind.
	AllowedKinds []string `mapstructure:"allowed_kinds"`
}

// DispatchConfig tunes the scheduling loop.
type DispatchConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" validate:"required"`
	NoCandidateBackoff time.Duration `mapstructure:"no_candidate_backoff" validate:"required"`
	ExecuteTimeout     time.Duration `mapstructure:"execute_timeout" validate:"required"`
}

// HealthConfig tunes node probing and the offline threshold.
type HealthConfig struct {
	ProbeInterval     time.Duration `mapstructure:"probe_interval" validate:"required"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" validate:"required"`
	OfflineThreshold  int           `mapstructure:"offline_threshold" validate:"required,gte=1"`
	MaxParallelProbes int           `mapstructure:"max_parallel_probes" validate:"required,gte=1"`
}

// RefillConfig controls the continuous job generator keeping the queue
// topped up between its water marks.
type RefillConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	LowWater  int           `mapstructure:"low_water" validate:"gte=0"`
	HighWater int           `mapstructure:"high_water" validate:"gtefield=LowWater"`
	Priority  int           `mapstructure:"priority" validate:"gte=1,lte=10"`
	Interval  time.Duration `mapstructure:"interval"`
	Templates []JobTemplate `mapstructure:"templates" validate:"dive"`
}

// JobTemplate describes one kind of job the refill generator can mint.
// Payload is carried as free-form YAML and marshalled to JSON when a
// job is created from the template.
type JobTemplate struct {
	Kind    string         `mapstructure:"kind" validate:"required"`
	Payload map[string]any `mapstructure:"payload"`
}
