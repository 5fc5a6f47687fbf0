package generation

import "errors"

// Error kinds every generator reports. Jobs turn them into the messages
// stored on failed tasks.
var (
	ErrGenerationFailed = errors.New("failed to generate content")

	// ErrInvalidResponse means the model answered but the reply could not
	// be decoded into CV documents or a score.
	ErrInvalidResponse = errors.New("invalid response from language model")

	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned once retries are exhausted on
	// network or 5xx errors.
	ErrTransientFailure = errors.New("transient error during generation")

	// ErrQuotaExceeded is never retried; the job refunds the usage charge
	// and tells the user to retry later.
	ErrQuotaExceeded = errors.New("language model quota exceeded")

	ErrInvalidConfig = errors.New("invalid generator configuration")
)
