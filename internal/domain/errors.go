package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized rejects an administrative call made without privilege.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a referenced session, agent or message is missing.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConfigurationError means AI replies are disabled or lack credentials.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "ai support not configured: " + e.Reason
}

// Error tags carried in reply envelopes. Never shown to visitors.
const (
	TagAIDisabled    = "ai_disabled"
	TagProviderError = "provider_error"
	TagValidation    = "validation_error"
	TagNotFound      = "not_found"
	TagInternal      = "internal_error"
)

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConfiguration reports whether err is a *ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
