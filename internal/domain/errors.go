package domain

import (
	"fmt"
	"time"
)

// EngineError represents a standardized error response
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput   = "INVALID_INPUT"
	ErrValidation     = "VALIDATION_ERROR"
	ErrComputation    = "COMPUTATION_ERROR"
	ErrConfiguration  = "CONFIGURATION_ERROR"
	ErrRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrNotFound       = "NOT_FOUND"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ConfigurationError reports an incomplete or inconsistent engine configuration.
// It is only raised at startup.
type ConfigurationError struct {
	Section string `json:"section"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in '%s': %s", e.Section, e.Message)
}

// NewEngineError creates a new EngineError with timestamp
func NewEngineError(code, message, details, requestID string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(section, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{
		Section: section,
		Message: fmt.Sprintf(format, args...),
	}
}

func indexedField(collection string, index int, field string) string {
	return fmt.Sprintf("%s[%d].%s", collection, index, field)
}
