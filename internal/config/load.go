package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. RESUMATE_SERVER_PORT.
const EnvPrefix = "RESUMATE"

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)

	v.SetDefault("task.max_concurrent", 4)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.type_limits", map[string]int{
		"generation": 2,
		"import":     2,
	})
	v.SetDefault("task.kill_grace_period", "5s")
	v.SetDefault("task.task_timeout", "0s")
	v.SetDefault("task.stale_task_age", "30m")
	v.SetDefault("task.reconcile_interval", "1m")
	v.SetDefault("task.workspace_root", "")
	v.SetDefault("task.interpreter", "python3")
	v.SetDefault("task.scripts_dir", "scripts")
	v.SetDefault("task.generation_mode", "subprocess")
	v.SetDefault("task.match_score_cache_window", "5m")
	v.SetDefault("task.cached_delay_min", "7s")
	v.SetDefault("task.cached_delay_max", "16s")
}

// bindEnv registers keys without defaults so AutomaticEnv picks them up
// during Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"database.url",
		"auth.jwt_secret",
		"llm.gemini_api_key",
	} {
		_ = v.BindEnv(key)
	}
}
