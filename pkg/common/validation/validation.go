// Package validation provides common validation utilities for the taskrun library.
package validation

import (
	"fmt"
	"time"

	trerrors "github.com/vnykmshr/taskrun/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return trerrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative validates that an integer value is non-negative (>= 0).
// Returns a ValidationError if the value is negative.
func ValidateNonNegative(module, field string, value int) error {
	if value < 0 {
		return trerrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 for the default or a positive value")
	}
	return nil
}

// ValidateDurationRange validates that d lies within [min, max].
func ValidateDurationRange(module, field string, d, min, max time.Duration) error {
	if d < min || d > max {
		return trerrors.NewValidationError(module, field, d, "out of range").
			WithHint(fmt.Sprintf("use a duration between %v and %v", min, max))
	}
	return nil
}

// ValidateNotNil validates that an interface value is not nil.
// Returns a ValidationError if the value is nil.
func ValidateNotNil(module, field string, value interface{}) error {
	if value == nil {
		return trerrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
// Returns a ValidationError if the string is empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return trerrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}

// ValidateMaxLength validates that a string is at most max bytes long.
func ValidateMaxLength(module, field string, value string, max int) error {
	if len(value) > max {
		return trerrors.NewValidationError(module, field, len(value), "too long").
			WithHint(fmt.Sprintf("use at most %d characters", max))
	}
	return nil
}
