package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/resumate-api/internal/config"
	"github.com/phrazzld/resumate-api/internal/generation"
)

// Retry defaults applied when the configuration carries invalid values.
const (
	defaultMaxRetries        = 3
	defaultRetryDelaySeconds = 2
)

// validateConfig checks the settings a generator cannot run without and
// returns a copy with invalid retry settings replaced by defaults.
//
// Parameters:
//   - ctx: Context for logging
//   - logger: Logger for recording validation results
//   - cfg: The LLM configuration to validate
//
// Returns:
//   - The normalized configuration
//   - An error wrapping generation.ErrInvalidConfig if validation fails
func validateConfig(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (config.LLMConfig, error) {
	if cfg.GeminiAPIKey == "" {
		logger.ErrorContext(ctx, "Missing Gemini API key")
		return cfg, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		logger.ErrorContext(ctx, "Missing model name")
		return cfg, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.MaxRetries < 0 {
		logger.WarnContext(ctx, "Invalid MaxRetries value",
			"value", cfg.MaxRetries,
			"default", defaultMaxRetries)
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.RetryDelaySeconds < 1 {
		logger.WarnContext(ctx, "Invalid RetryDelaySeconds value",
			"value", cfg.RetryDelaySeconds,
			"default", defaultRetryDelaySeconds)
		cfg.RetryDelaySeconds = defaultRetryDelaySeconds
	}

	return cfg, nil
}
