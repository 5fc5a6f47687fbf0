package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
	// MaxOpenConns caps the pool. Zero sizes it from task.max_concurrent.
	MaxOpenConns int `mapstructure:"max_open_conns" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName         string `mapstructure:"model_name" validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}

// TaskConfig contains settings for the background job queue, the runner and
// the concrete jobs.
type TaskConfig struct {
	// MaxConcurrent caps the number of jobs running at once across all types.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"required,gt=0"`
	// QueueSize bounds the number of pending (not yet started) jobs.
	QueueSize int `mapstructure:"queue_size" validate:"required,gt=0"`
	// TypeLimits caps concurrency per task type tag. Missing types are only
	// bounded by MaxConcurrent.
	TypeLimits map[string]int `mapstructure:"type_limits"`

	KillGracePeriod   time.Duration `mapstructure:"kill_grace_period" validate:"gt=0"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout" validate:"gte=0"`
	StaleTaskAge      time.Duration `mapstructure:"stale_task_age" validate:"gt=0"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"gt=0"`

	WorkspaceRoot string `mapstructure:"workspace_root"`
	Interpreter   string `mapstructure:"interpreter" validate:"required"`
	ScriptsDir    string `mapstructure:"scripts_dir" validate:"required"`
	// GenerationMode selects the CV generation variant.
	GenerationMode string `mapstructure:"generation_mode" validate:"required,oneof=subprocess inprocess"`

	MatchScoreCacheWindow time.Duration `mapstructure:"match_score_cache_window" validate:"gte=0"`
	CachedDelayMin        time.Duration `mapstructure:"cached_delay_min" validate:"gte=0"`
	CachedDelayMax        time.Duration `mapstructure:"cached_delay_max" validate:"gtefield=CachedDelayMin"`
}
