// Package validation provides common validation utilities for configuration
// parameters across the taskrun library.
//
// Every helper returns a *errors.ValidationError that unwraps to
// errors.ErrInvalidConfiguration, so constructors can surface a uniform
// error shape.
package validation
