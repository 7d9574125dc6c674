package engine

import (
	"errors"
	"fmt"
)

// ConfigurationError marks an invalid timing policy. Fatal and non-retryable:
// policies are validated before scheduling runs, so reaching one here means
// the stored configuration is broken.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid timing policy: %s: %s", e.Field, e.Reason)
}

// ValidationError reports an unmet lifecycle precondition. Non-fatal,
// returned to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// IsConfiguration reports whether err is a ConfigurationError
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
