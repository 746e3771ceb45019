package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestEngineError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Validation error",
			code:      ErrValidation,
			message:   "age must be non-negative",
			details:   "demographics.age",
			requestID: "req-123",
		},
		{
			name:      "Rate limit error",
			code:      ErrRateLimit,
			message:   "Too many requests",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now().UTC()
			err := NewEngineError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}
			if err.RequestID != tt.requestID {
				t.Errorf("Expected request ID %s, got %s", tt.requestID, err.RequestID)
			}
			if err.Timestamp.Before(before) {
				t.Errorf("Expected timestamp after %v, got %v", before, err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("observations[2].value", "value must be a finite number", -1.5)

	expectedError := "validation error for field 'observations[2].value': value must be a finite number"
	if err.Error() != expectedError {
		t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
	}

	var wrapped error = err
	var target *ValidationError
	if !errors.As(wrapped, &target) || target.Value != -1.5 {
		t.Errorf("Expected errors.As to recover the value, got %v", target)
	}
}

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("tradeoff.bleeding", "factor %q has no coefficient", "smoker")

	if err.Section != "tradeoff.bleeding" {
		t.Errorf("Expected section tradeoff.bleeding, got %s", err.Section)
	}

	expectedError := `configuration error in 'tradeoff.bleeding': factor "smoker" has no coefficient`
	if err.Error() != expectedError {
		t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
	}
}

func TestClinicalBundleValidate(t *testing.T) {
	nan := math.NaN()

	tests := []struct {
		name   string
		bundle ClinicalBundle
		field  string
	}{
		{"empty bundle", ClinicalBundle{}, ""},
		{"valid bundle", ClinicalBundle{Demographics: Demographics{Age: IntPtr(70), Gender: FEMALE}}, ""},
		{"negative age", ClinicalBundle{Demographics: Demographics{Age: IntPtr(-1)}}, "demographics.age"},
		{"implausible age", ClinicalBundle{Demographics: Demographics{Age: IntPtr(151)}}, "demographics.age"},
		{"invalid gender", ClinicalBundle{Demographics: Demographics{Gender: "other"}}, "demographics.gender"},
		{"negative lab value", ClinicalBundle{Observations: []Observation{{}, {Value: Float64Ptr(-4)}}}, "observations[1].value"},
		{"non-finite lab value", ClinicalBundle{Observations: []Observation{{Value: &nan}}}, "observations[0].value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bundle.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}

			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if validationErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, validationErr.Field)
			}
		})
	}
}

func TestErrorConstants(t *testing.T) {
	expectedValues := map[string]string{
		ErrInvalidInput:   "INVALID_INPUT",
		ErrValidation:     "VALIDATION_ERROR",
		ErrComputation:    "COMPUTATION_ERROR",
		ErrConfiguration:  "CONFIGURATION_ERROR",
		ErrRateLimit:      "RATE_LIMIT_EXCEEDED",
		ErrNotFound:       "NOT_FOUND",
		ErrInternalServer: "INTERNAL_SERVER_ERROR",
	}

	for actual, expected := range expectedValues {
		if actual != expected {
			t.Errorf("Expected %s, got %s", expected, actual)
		}
	}
}
