package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	// Pull in a local .env file when present. Missing files are fine;
	// production supplies real environment variables.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	// Optional config file: ./config.yaml or /etc/repodocs/config.yaml.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/repodocs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables with the REPODOCS_ prefix override everything,
	// e.g. REPODOCS_DATABASE_URL, REPODOCS_QUEUE_MAX_ATTEMPTS.
	v.SetEnvPrefix("REPODOCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so keys
	// without defaults (secrets, connection strings) need explicit binding.
	for _, key := range []string{"database.url", "callback.secret"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for every setting that has a
// sensible one. Secrets and connection strings have no defaults on purpose.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("queue.default_lease_seconds", 300)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.backoff_base_ms", 5000)
	v.SetDefault("queue.backoff_max_ms", 600000)
	v.SetDefault("queue.backoff_jitter_ms", 5000)
	v.SetDefault("queue.reclaim_interval_seconds", 150)

	v.SetDefault("callback.token_lifetime_hours", 72)
}
