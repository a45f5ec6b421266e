package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Callback CallbackConfig `mapstructure:"callback" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port      int    `mapstructure:"port"       validate:"required,gt=0,lt=65536"`
	LogLevel  string `mapstructure:"log_level"  validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=json console"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// QueueConfig contains the tuning knobs for the durable job queue.
// Every duration is expressed in the unit named by the field so the values
// can be supplied as plain integers through the environment.
type QueueConfig struct {
	// DefaultLeaseSeconds is the lease granted to a claim when the worker
	// does not request a specific duration.
	DefaultLeaseSeconds int `mapstructure:"default_lease_seconds" validate:"required,gt=0"`

	// MaxAttempts is the retry budget assigned to newly enqueued jobs.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gt=0"`

	// BackoffBaseMs is the first retry delay; it doubles on each
	// subsequent attempt.
	BackoffBaseMs int `mapstructure:"backoff_base_ms" validate:"required,gt=0"`

	// BackoffMaxMs caps the exponential growth of the retry delay.
	BackoffMaxMs int `mapstructure:"backoff_max_ms" validate:"required,gt=0"`

	// BackoffJitterMs is the width of the uniform random jitter window
	// added on top of the computed delay.
	BackoffJitterMs int `mapstructure:"backoff_jitter_ms" validate:"gte=0"`

	// ReclaimIntervalSeconds is the period of the lease-expiry sweep.
	// It should be shorter than the lease itself, typically half.
	ReclaimIntervalSeconds int `mapstructure:"reclaim_interval_seconds" validate:"required,gt=0"`
}

// CallbackConfig contains settings for worker callback capability tokens.
type CallbackConfig struct {
	// Secret signs callback tokens; it must be long enough to resist
	// brute force.
	Secret string `mapstructure:"secret" validate:"required,min=32"`

	// TokenLifetimeHours bounds how long a callback token stays valid.
	// It must comfortably exceed the worst-case job runtime including
	// retries and backoff.
	TokenLifetimeHours int `mapstructure:"token_lifetime_hours" validate:"required,gt=0"`
}
